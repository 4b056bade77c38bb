package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakechain/core/types"
	"stakechain/native/bank"
	"stakechain/native/dex"
	"stakechain/native/inflation"
	"stakechain/native/staking"
)

var (
	// ErrBadOrigin is returned when a signed origin submits a privileged call.
	ErrBadOrigin = errors.New("runtime: bad origin")
	// ErrUnknownCall is returned for call names the runtime does not route.
	ErrUnknownCall = errors.New("runtime: unknown call")
	// ErrBadArgs wraps argument decoding failures.
	ErrBadArgs = errors.New("runtime: invalid call arguments")
)

// Call names accepted by Dispatch.
const (
	CallBankTransfer = "bank.transfer"

	CallStakingBond      = "staking.bond"
	CallStakingBondExtra = "staking.bond_extra"
	CallStakingUnbond    = "staking.unbond"
	CallStakingValidate  = "staking.validate"
	CallStakingNominate  = "staking.nominate"
	CallStakingChill     = "staking.chill"
	CallStakingSetPayee  = "staking.set_payee"

	CallDexDeposit     = "dex.deposit"
	CallDexWithdraw    = "dex.withdraw"
	CallDexMakeOrder   = "dex.make_order"
	CallDexCancelOrder = "dex.cancel_order"
	CallDexTakeOrder   = "dex.take_order"
	CallDexListToken   = "dex.list_token"
	CallDexDelistToken = "dex.delist_token"

	CallChangeInflation                 = "inflation.change_inflation"
	CallChangeInflationDecay            = "inflation.change_inflation_decay"
	CallChangeTreasuryCommission        = "inflation.change_treasury_commission"
	CallChangeTreasuryCommissionFromFee = "inflation.change_treasury_commission_from_fee"
	CallApplyYearlyDecay                = "inflation.apply_yearly_decay"
)

var privilegedCalls = map[string]struct{}{
	CallDexListToken:                    {},
	CallDexDelistToken:                  {},
	CallChangeInflation:                 {},
	CallChangeInflationDecay:            {},
	CallChangeTreasuryCommission:        {},
	CallChangeTreasuryCommissionFromFee: {},
	CallApplyYearlyDecay:                {},
}

// Privileged reports whether name requires the root origin.
func Privileged(name string) bool {
	_, ok := privilegedCalls[name]
	return ok
}

var signedCalls = map[string]struct{}{
	CallBankTransfer:     {},
	CallStakingBond:      {},
	CallStakingBondExtra: {},
	CallStakingUnbond:    {},
	CallStakingValidate:  {},
	CallStakingNominate:  {},
	CallStakingChill:     {},
	CallStakingSetPayee:  {},
	CallDexDeposit:       {},
	CallDexWithdraw:      {},
	CallDexMakeOrder:     {},
	CallDexCancelOrder:   {},
	CallDexTakeOrder:     {},
}

// KnownCall reports whether name is routed by the dispatcher.
func KnownCall(name string) bool {
	if _, ok := signedCalls[name]; ok {
		return true
	}
	return Privileged(name)
}

// Origin is who a call runs as: root, or a signed account.
type Origin struct {
	Root    bool
	Account types.AccountID
}

// RootOrigin is the privileged origin.
func RootOrigin() Origin { return Origin{Root: true} }

// Signed is the origin of account.
func Signed(account types.AccountID) Origin { return Origin{Account: account} }

func (o Origin) String() string {
	if o.Root {
		return "root"
	}
	return o.Account.String()
}

// Call is a named module call with JSON arguments.
type Call struct {
	Name string          `json:"call"`
	Args json.RawMessage `json:"args,omitempty"`
}

// NewCall encodes args into a call.
func NewCall(name string, args interface{}) (Call, error) {
	if args == nil {
		return Call{Name: name}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Call{}, err
	}
	return Call{Name: name, Args: raw}, nil
}

// Extrinsic is a call together with its origin.
type Extrinsic struct {
	Origin Origin
	Call   Call
}

type TransferArgs struct {
	To     types.AccountID `json:"to"`
	Asset  types.AssetID   `json:"asset"`
	Amount string          `json:"amount"`
}

type BondArgs struct {
	Controller *types.AccountID `json:"controller,omitempty"`
	Value      string           `json:"value"`
	Payee      string           `json:"payee,omitempty"`
}

type ValueArgs struct {
	Value string `json:"value"`
}

type ValidateArgs struct {
	Commission string `json:"commission"`
}

type NominateArgs struct {
	Targets []types.AccountID `json:"targets"`
}

type PayeeArgs struct {
	Payee string `json:"payee"`
}

type AssetAmountArgs struct {
	Asset  types.AssetID `json:"asset"`
	Amount string        `json:"amount"`
}

type MakeOrderArgs struct {
	AssetA     types.AssetID     `json:"assetA"`
	AssetB     types.AssetID     `json:"assetB"`
	Offered    string            `json:"offered"`
	Requested  string            `json:"requested"`
	Side       string            `json:"side"`
	Expiration types.BlockNumber `json:"expiration"`
}

type OrderArgs struct {
	ID uint64 `json:"id"`
}

type AssetArgs struct {
	Asset types.AssetID `json:"asset"`
}

func decodeArgs(call Call, out interface{}) error {
	raw := bytes.TrimSpace(call.Args)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadArgs, call.Name, err)
	}
	return nil
}

func parseAmount(name, value string) (*uint256.Int, error) {
	amount, err := types.ParseBalance(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadArgs, name, err)
	}
	return amount, nil
}

func parsePerbill(name, value string) (types.Perbill, error) {
	parsed, err := types.ParsePerbill(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadArgs, name, err)
	}
	return parsed, nil
}

// Dispatcher routes calls to the native modules. It performs no transaction
// handling of its own; the runtime wraps every dispatch in one.
type Dispatcher struct {
	Bank     *bank.Ledger
	Staking  *staking.Module
	Dex      *dex.Book
	Schedule *inflation.Schedule
}

// Dispatch executes call as origin at block.
func (d *Dispatcher) Dispatch(origin Origin, call Call, block types.BlockNumber) error {
	if Privileged(call.Name) {
		if !origin.Root {
			return fmt.Errorf("%w: %s requires root", ErrBadOrigin, call.Name)
		}
		return d.dispatchRoot(call, block)
	}
	if origin.Root {
		return fmt.Errorf("%w: %s must be signed", ErrBadOrigin, call.Name)
	}
	who := origin.Account
	switch call.Name {
	case CallBankTransfer:
		var args TransferArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		amount, err := parseAmount(call.Name, args.Amount)
		if err != nil {
			return err
		}
		return d.Bank.Transfer(args.Asset, who, args.To, amount)

	case CallStakingBond:
		var args BondArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		value, err := parseAmount(call.Name, args.Value)
		if err != nil {
			return err
		}
		controller := who
		if args.Controller != nil {
			controller = *args.Controller
		}
		payee, err := staking.ParseRewardDestination(args.Payee)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
		return d.Staking.Bond(who, controller, value, payee)

	case CallStakingBondExtra, CallStakingUnbond:
		var args ValueArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		value, err := parseAmount(call.Name, args.Value)
		if err != nil {
			return err
		}
		if call.Name == CallStakingBondExtra {
			return d.Staking.BondExtra(who, value)
		}
		return d.Staking.Unbond(who, value)

	case CallStakingValidate:
		var args ValidateArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		commission := types.Perbill(0)
		if args.Commission != "" {
			var err error
			if commission, err = parsePerbill(call.Name, args.Commission); err != nil {
				return err
			}
		}
		return d.Staking.Validate(who, staking.ValidatorPrefs{Commission: commission})

	case CallStakingNominate:
		var args NominateArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		return d.Staking.Nominate(who, args.Targets)

	case CallStakingChill:
		if err := decodeArgs(call, &struct{}{}); err != nil {
			return err
		}
		return d.Staking.Chill(who)

	case CallStakingSetPayee:
		var args PayeeArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		payee, err := staking.ParseRewardDestination(args.Payee)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
		return d.Staking.SetPayee(who, payee)

	case CallDexDeposit, CallDexWithdraw:
		var args AssetAmountArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		amount, err := parseAmount(call.Name, args.Amount)
		if err != nil {
			return err
		}
		if call.Name == CallDexDeposit {
			return d.Dex.Deposit(who, args.Asset, amount)
		}
		return d.Dex.Withdraw(who, args.Asset, amount)

	case CallDexMakeOrder:
		var args MakeOrderArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		offered, err := parseAmount(call.Name, args.Offered)
		if err != nil {
			return err
		}
		requested, err := parseAmount(call.Name, args.Requested)
		if err != nil {
			return err
		}
		side, err := dex.ParseSide(args.Side)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
		_, err = d.Dex.MakeOrder(who, args.AssetA, args.AssetB, offered, requested, side, args.Expiration, block)
		return err

	case CallDexCancelOrder, CallDexTakeOrder:
		var args OrderArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		if call.Name == CallDexCancelOrder {
			return d.Dex.CancelOrder(who, args.ID)
		}
		return d.Dex.TakeOrder(who, args.ID)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCall, call.Name)
}

func (d *Dispatcher) dispatchRoot(call Call, block types.BlockNumber) error {
	switch call.Name {
	case CallDexListToken, CallDexDelistToken:
		var args AssetArgs
		if err := decodeArgs(call, &args); err != nil {
			return err
		}
		if call.Name == CallDexListToken {
			return d.Dex.ListToken(args.Asset)
		}
		return d.Dex.DelistToken(args.Asset)

	case CallApplyYearlyDecay:
		if err := decodeArgs(call, &struct{}{}); err != nil {
			return err
		}
		return d.Schedule.ApplyYearlyDecay(block)
	}

	var args ValueArgs
	if err := decodeArgs(call, &args); err != nil {
		return err
	}
	value, err := parsePerbill(call.Name, args.Value)
	if err != nil {
		return err
	}
	switch call.Name {
	case CallChangeInflation:
		return d.Schedule.ChangeInflation(value)
	case CallChangeInflationDecay:
		return d.Schedule.ChangeInflationDecay(value)
	case CallChangeTreasuryCommission:
		return d.Schedule.ChangeTreasuryCommission(value)
	case CallChangeTreasuryCommissionFromFee:
		return d.Schedule.ChangeTreasuryCommissionFromFee(value)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCall, call.Name)
}
