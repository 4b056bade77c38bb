package events

import (
	"github.com/holiman/uint256"

	"stakechain/core/types"
)

// FeeSplit records a call fee divided between the treasury and the block
// author.
type FeeSplit struct {
	Payer    types.AccountID
	Author   types.AccountID
	Fee      *uint256.Int
	Treasury *uint256.Int
	ToAuthor *uint256.Int
}

func (FeeSplit) EventType() string { return TypeFeeSplit }

func (e FeeSplit) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeSplit,
		Attributes: map[string]string{
			"payer":    accountString(e.Payer),
			"author":   accountString(e.Author),
			"fee":      amountString(e.Fee),
			"treasury": amountString(e.Treasury),
			"toAuthor": amountString(e.ToAuthor),
		},
	}
}
