package events

import (
	"github.com/holiman/uint256"

	"stakechain/core/types"
)

const (
	TypeDexDeposited     = "dex.deposited"
	TypeDexWithdrawed    = "dex.withdrawed"
	TypeDexOrderCreated  = "dex.order_created"
	TypeDexOrderTaken    = "dex.order_taken"
	TypeDexOrderCanceled = "dex.order_canceled"
	TypeDexTokenListed   = "dex.token_listed"
	TypeDexTokenDelisted = "dex.token_delisted"

	// CancelReasonOwner marks a cancellation requested by the order owner.
	CancelReasonOwner = "owner"
	// CancelReasonExpired marks a cancellation performed by the expiry sweep.
	CancelReasonExpired = "expired"
)

type DexDeposited struct {
	Account types.AccountID
	Asset   types.AssetID
	Amount  *uint256.Int
}

func (DexDeposited) EventType() string { return TypeDexDeposited }

func (e DexDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeDexDeposited,
		Attributes: map[string]string{
			"account": accountString(e.Account),
			"asset":   assetString(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

type DexWithdrawed struct {
	Account types.AccountID
	Asset   types.AssetID
	Amount  *uint256.Int
}

func (DexWithdrawed) EventType() string { return TypeDexWithdrawed }

func (e DexWithdrawed) Event() *types.Event {
	return &types.Event{
		Type: TypeDexWithdrawed,
		Attributes: map[string]string{
			"account": accountString(e.Account),
			"asset":   assetString(e.Asset),
			"amount":  amountString(e.Amount),
		},
	}
}

type DexOrderCreated struct {
	ID         uint64
	Owner      types.AccountID
	Base       types.AssetID
	Quote      types.AssetID
	Side       string
	Offered    *uint256.Int
	Requested  *uint256.Int
	Expiration types.BlockNumber
}

func (DexOrderCreated) EventType() string { return TypeDexOrderCreated }

func (e DexOrderCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeDexOrderCreated,
		Attributes: map[string]string{
			"id":         uintString(e.ID),
			"owner":      accountString(e.Owner),
			"base":       assetString(e.Base),
			"quote":      assetString(e.Quote),
			"side":       e.Side,
			"offered":    amountString(e.Offered),
			"requested":  amountString(e.Requested),
			"expiration": uintString(e.Expiration),
		},
	}
}

type DexOrderTaken struct {
	ID    uint64
	Owner types.AccountID
	Taker types.AccountID
}

func (DexOrderTaken) EventType() string { return TypeDexOrderTaken }

func (e DexOrderTaken) Event() *types.Event {
	return &types.Event{
		Type: TypeDexOrderTaken,
		Attributes: map[string]string{
			"id":    uintString(e.ID),
			"owner": accountString(e.Owner),
			"taker": accountString(e.Taker),
		},
	}
}

type DexOrderCanceled struct {
	ID     uint64
	Owner  types.AccountID
	Reason string
}

func (DexOrderCanceled) EventType() string { return TypeDexOrderCanceled }

func (e DexOrderCanceled) Event() *types.Event {
	return &types.Event{
		Type: TypeDexOrderCanceled,
		Attributes: map[string]string{
			"id":     uintString(e.ID),
			"owner":  accountString(e.Owner),
			"reason": e.Reason,
		},
	}
}

type DexTokenListed struct{ Asset types.AssetID }

func (DexTokenListed) EventType() string { return TypeDexTokenListed }

func (e DexTokenListed) Event() *types.Event {
	return &types.Event{Type: TypeDexTokenListed, Attributes: map[string]string{"asset": assetString(e.Asset)}}
}

type DexTokenDelisted struct{ Asset types.AssetID }

func (DexTokenDelisted) EventType() string { return TypeDexTokenDelisted }

func (e DexTokenDelisted) Event() *types.Event {
	return &types.Event{Type: TypeDexTokenDelisted, Attributes: map[string]string{"asset": assetString(e.Asset)}}
}
