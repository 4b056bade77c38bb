package events

import (
	"strings"

	"github.com/holiman/uint256"

	"stakechain/core/types"
)

const (
	TypeStakeBonded       = "staking.bonded"
	TypeStakeUnbonded     = "staking.unbonded"
	TypeStakeValidate     = "staking.validate"
	TypeStakeNominated    = "staking.nominated"
	TypeStakeChilled      = "staking.chilled"
	TypeStakePayeeSet     = "staking.payee_set"
	TypeStakeEraStarted   = "staking.era_started"
	TypeStakeRewardBonded = "staking.reward_bonded"
)

type StakeBonded struct {
	Stash      types.AccountID
	Controller types.AccountID
	Amount     *uint256.Int
}

func (StakeBonded) EventType() string { return TypeStakeBonded }

func (e StakeBonded) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeBonded,
		Attributes: map[string]string{
			"stash":      accountString(e.Stash),
			"controller": accountString(e.Controller),
			"amount":     amountString(e.Amount),
		},
	}
}

// StakeRewardBonded is emitted when a reward is compounded into the ledger.
type StakeRewardBonded struct {
	Stash  types.AccountID
	Amount *uint256.Int
}

func (StakeRewardBonded) EventType() string { return TypeStakeRewardBonded }

func (e StakeRewardBonded) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeRewardBonded,
		Attributes: map[string]string{
			"stash":  accountString(e.Stash),
			"amount": amountString(e.Amount),
		},
	}
}

type StakeUnbonded struct {
	Stash  types.AccountID
	Amount *uint256.Int
}

func (StakeUnbonded) EventType() string { return TypeStakeUnbonded }

func (e StakeUnbonded) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeUnbonded,
		Attributes: map[string]string{
			"stash":  accountString(e.Stash),
			"amount": amountString(e.Amount),
		},
	}
}

type StakeValidate struct {
	Stash      types.AccountID
	Commission types.Perbill
}

func (StakeValidate) EventType() string { return TypeStakeValidate }

func (e StakeValidate) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeValidate,
		Attributes: map[string]string{
			"stash":      accountString(e.Stash),
			"commission": e.Commission.String(),
		},
	}
}

type StakeNominated struct {
	Stash   types.AccountID
	Targets []types.AccountID
}

func (StakeNominated) EventType() string { return TypeStakeNominated }

func (e StakeNominated) Event() *types.Event {
	targets := make([]string, 0, len(e.Targets))
	for _, t := range e.Targets {
		targets = append(targets, t.String())
	}
	return &types.Event{
		Type: TypeStakeNominated,
		Attributes: map[string]string{
			"stash":   accountString(e.Stash),
			"targets": strings.Join(targets, ","),
		},
	}
}

type StakeChilled struct {
	Stash types.AccountID
}

func (StakeChilled) EventType() string { return TypeStakeChilled }

func (e StakeChilled) Event() *types.Event {
	return &types.Event{
		Type:       TypeStakeChilled,
		Attributes: map[string]string{"stash": accountString(e.Stash)},
	}
}

type StakePayeeSet struct {
	Stash       types.AccountID
	Destination string
}

func (StakePayeeSet) EventType() string { return TypeStakePayeeSet }

func (e StakePayeeSet) Event() *types.Event {
	return &types.Event{
		Type: TypeStakePayeeSet,
		Attributes: map[string]string{
			"stash":       accountString(e.Stash),
			"destination": e.Destination,
		},
	}
}

type StakeEraStarted struct {
	Era        types.EraIndex
	Validators int
	TotalStake *uint256.Int
}

func (StakeEraStarted) EventType() string { return TypeStakeEraStarted }

func (e StakeEraStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeEraStarted,
		Attributes: map[string]string{
			"era":        uintString(uint64(e.Era)),
			"validators": uintString(uint64(e.Validators)),
			"totalStake": amountString(e.TotalStake),
		},
	}
}
