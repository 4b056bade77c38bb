package fees

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
	"stakechain/native/bank"
)

// ErrCannotPayFee is returned when the payer's usable native balance does not
// cover the call fee.
var ErrCannotPayFee = errors.New("fees: cannot pay call fee")

// Ledger moves the native asset.
type Ledger interface {
	Usable(asset types.AssetID, account types.AccountID) (*uint256.Int, error)
	Transfer(asset types.AssetID, from, to types.AccountID, amount *uint256.Int) error
}

// Splitter divides a fee between the treasury and the block author.
type Splitter interface {
	SplitFee(fee *uint256.Int) (treasury, author *uint256.Int, err error)
}

// Result summarises one charge.
type Result struct {
	Fee      *uint256.Int
	Treasury *uint256.Int
	Author   *uint256.Int
}

// Charger collects call fees. The treasury share follows the schedule's
// treasury_commission_from_fee; the rest goes to the block author.
type Charger struct {
	policy   Policy
	ledger   Ledger
	splitter Splitter
	treasury types.AccountID
	emitter  events.Emitter
}

// NewCharger constructs a charger.
func NewCharger(policy Policy, ledger Ledger, splitter Splitter, treasury types.AccountID) *Charger {
	return &Charger{
		policy:   policy.Clone(),
		ledger:   ledger,
		splitter: splitter,
		treasury: treasury,
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter configures the event sink.
func (c *Charger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

// Policy returns a copy of the active policy.
func (c *Charger) Policy() Policy {
	return c.policy.Clone()
}

// Charge takes the fee for call from payer. Fees are transferred rather than
// burned so issuance is unchanged.
func (c *Charger) Charge(payer, author types.AccountID, call string) (Result, error) {
	fee := c.policy.FeeFor(call)
	result := Result{Fee: fee, Treasury: new(uint256.Int), Author: new(uint256.Int)}
	if fee.IsZero() {
		return result, nil
	}
	usable, err := c.ledger.Usable(types.NativeAsset, payer)
	if err != nil {
		return result, err
	}
	if usable.Lt(fee) {
		return result, fmt.Errorf("%w: have %s, need %s", ErrCannotPayFee, usable.Dec(), fee.Dec())
	}
	toTreasury, toAuthor, err := c.splitter.SplitFee(fee)
	if err != nil {
		return result, err
	}
	// Blocks without an author route the author share to the treasury.
	if author.IsZero() {
		toTreasury, toAuthor = types.CopyBalance(fee), new(uint256.Int)
	}
	if err := c.ledger.Transfer(types.NativeAsset, payer, c.treasury, toTreasury); err != nil {
		return result, c.wrap(err)
	}
	if err := c.ledger.Transfer(types.NativeAsset, payer, author, toAuthor); err != nil {
		return result, c.wrap(err)
	}
	result.Treasury, result.Author = toTreasury, toAuthor
	c.emitter.Emit(events.FeeSplit{Payer: payer, Author: author, Fee: fee, Treasury: toTreasury, ToAuthor: toAuthor})
	return result, nil
}

func (c *Charger) wrap(err error) error {
	if errors.Is(err, bank.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", ErrCannotPayFee, err)
	}
	return err
}
