package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"stakechain/core/types"
)

// Side is the direction of an order relative to its pair. A Sell offers the
// pair's base asset for the quote asset; a Buy offers quote for base.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Flip returns the opposite side.
func (s Side) Flip() Side {
	if s == Sell {
		return Buy
	}
	return Sell
}

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("dex: unknown side %q", value)
	}
}

// Pair is a canonical asset pair; Base is always lower than Quote.
type Pair struct {
	Base  types.AssetID
	Quote types.AssetID
}

// CanonicalPair orders a and b, reporting whether they were swapped.
func CanonicalPair(a, b types.AssetID) (Pair, bool) {
	if a > b {
		return Pair{Base: b, Quote: a}, true
	}
	return Pair{Base: a, Quote: b}, false
}

// Order is a resting limit order.
type Order struct {
	ID              uint64
	Owner           types.AccountID
	Pair            Pair
	Expiration      types.BlockNumber
	Side            Side
	AmountOffered   *uint256.Int
	AmountRequested *uint256.Int
}

// OfferedAsset is the asset the owner gives up.
func (o *Order) OfferedAsset() types.AssetID {
	if o.Side == Sell {
		return o.Pair.Base
	}
	return o.Pair.Quote
}

// RequestedAsset is the asset the owner receives when the order is taken.
func (o *Order) RequestedAsset() types.AssetID {
	if o.Side == Sell {
		return o.Pair.Quote
	}
	return o.Pair.Base
}

type storedOrder struct {
	ID         uint64
	Owner      types.AccountID
	Base       uint32
	Quote      uint32
	Expiration uint64
	Side       uint8
	Offered    *big.Int
	Requested  *big.Int
}

func (o *Order) toStored() storedOrder {
	return storedOrder{
		ID:         o.ID,
		Owner:      o.Owner,
		Base:       uint32(o.Pair.Base),
		Quote:      uint32(o.Pair.Quote),
		Expiration: o.Expiration,
		Side:       uint8(o.Side),
		Offered:    types.BalanceToBig(o.AmountOffered),
		Requested:  types.BalanceToBig(o.AmountRequested),
	}
}

func (s storedOrder) toOrder() (*Order, error) {
	offered, err := types.BalanceFromBig(s.Offered)
	if err != nil {
		return nil, err
	}
	requested, err := types.BalanceFromBig(s.Requested)
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:              s.ID,
		Owner:           s.Owner,
		Pair:            Pair{Base: types.AssetID(s.Base), Quote: types.AssetID(s.Quote)},
		Expiration:      s.Expiration,
		Side:            Side(s.Side),
		AmountOffered:   offered,
		AmountRequested: requested,
	}, nil
}

// TokenInfo is an account's balance of one asset inside the exchange. Amount
// is free; Reserved backs open orders.
type TokenInfo struct {
	Amount   *uint256.Int
	Reserved *uint256.Int
}

type storedTokenInfo struct {
	Amount   *big.Int
	Reserved *big.Int
}

func (t TokenInfo) toStored() storedTokenInfo {
	return storedTokenInfo{Amount: types.BalanceToBig(t.Amount), Reserved: types.BalanceToBig(t.Reserved)}
}

func (s storedTokenInfo) toInfo() (TokenInfo, error) {
	amount, err := types.BalanceFromBig(s.Amount)
	if err != nil {
		return TokenInfo{}, err
	}
	reserved, err := types.BalanceFromBig(s.Reserved)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{Amount: amount, Reserved: reserved}, nil
}
