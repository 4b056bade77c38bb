package events

import (
	"github.com/holiman/uint256"

	"stakechain/core/types"
)

const (
	// TypeBankTransfer is emitted when an account moves funds to another.
	TypeBankTransfer = "bank.transfer"
	// TypeBankMinted is emitted whenever new units enter circulation.
	TypeBankMinted = "bank.minted"
	// TypeBankBurned is emitted whenever units leave circulation.
	TypeBankBurned = "bank.burned"
)

type BankTransfer struct {
	Asset  types.AssetID
	From   types.AccountID
	To     types.AccountID
	Amount *uint256.Int
}

func (BankTransfer) EventType() string { return TypeBankTransfer }

func (e BankTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeBankTransfer,
		Attributes: map[string]string{
			"asset":  assetString(e.Asset),
			"from":   accountString(e.From),
			"to":     accountString(e.To),
			"amount": amountString(e.Amount),
		},
	}
}

// BankMinted records issuance growth. Reason names the flow, e.g. "inflation",
// "reward", "genesis".
type BankMinted struct {
	Asset   types.AssetID
	Account types.AccountID
	Amount  *uint256.Int
	Reason  string
}

func (BankMinted) EventType() string { return TypeBankMinted }

func (e BankMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeBankMinted,
		Attributes: map[string]string{
			"asset":   assetString(e.Asset),
			"account": accountString(e.Account),
			"amount":  amountString(e.Amount),
			"reason":  e.Reason,
		},
	}
}

type BankBurned struct {
	Asset   types.AssetID
	Account types.AccountID
	Amount  *uint256.Int
	Reason  string
}

func (BankBurned) EventType() string { return TypeBankBurned }

func (e BankBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeBankBurned,
		Attributes: map[string]string{
			"asset":   assetString(e.Asset),
			"account": accountString(e.Account),
			"amount":  amountString(e.Amount),
			"reason":  e.Reason,
		},
	}
}
