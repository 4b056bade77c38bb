package events

import (
	"github.com/holiman/uint256"

	"stakechain/core/types"
)

const (
	// TypeSessionPayout summarises the inflation split at a session boundary.
	TypeSessionPayout = "payout.session"
	// TypeRewarded is emitted for every individual reward deposit.
	TypeRewarded = "payout.rewarded"
)

// SessionPayout carries the split of a session's inflation. ValidatorPayout
// plus Remainder equals the inflation of the session; Paid is what actually
// reached stakers, the rest of the pool joins the remainder in the treasury.
type SessionPayout struct {
	Session         types.SessionIndex
	Era             types.EraIndex
	ValidatorPayout *uint256.Int
	Remainder       *uint256.Int
	Paid            *uint256.Int
}

func (SessionPayout) EventType() string { return TypeSessionPayout }

func (e SessionPayout) Event() *types.Event {
	return &types.Event{
		Type: TypeSessionPayout,
		Attributes: map[string]string{
			"session":         uintString(uint64(e.Session)),
			"era":             uintString(uint64(e.Era)),
			"validatorPayout": amountString(e.ValidatorPayout),
			"remainder":       amountString(e.Remainder),
			"paid":            amountString(e.Paid),
		},
	}
}

// Rewarded names the stash the reward was earned for; Destination is the
// account that actually received it.
type Rewarded struct {
	Stash       types.AccountID
	Destination types.AccountID
	Amount      *uint256.Int
	Session     types.SessionIndex
}

func (Rewarded) EventType() string { return TypeRewarded }

func (e Rewarded) Event() *types.Event {
	return &types.Event{
		Type: TypeRewarded,
		Attributes: map[string]string{
			"stash":       accountString(e.Stash),
			"destination": accountString(e.Destination),
			"amount":      amountString(e.Amount),
			"session":     uintString(uint64(e.Session)),
		},
	}
}
