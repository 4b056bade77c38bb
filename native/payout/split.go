package payout

import (
	"github.com/holiman/uint256"

	"stakechain/core/types"
	"stakechain/native/inflation"
)

// Split is the division of one session's inflation.
type Split struct {
	PercentPerSession types.Perbill
	TotalInflation    *uint256.Int
	ValidatorPayout   *uint256.Int
	Remainder         *uint256.Int
}

// SplitReward divides the inflation of a session of durationMillis between
// stakers and the treasury:
//
//	percent_per_session = inflation * duration/year
//	total_inflation     = percent_per_session * total_issuance
//	validator_payout    = (1 - treasury_commission) * percent_per_session * total_staked
//	remainder           = total_inflation - validator_payout, floored at zero
func SplitReward(totalStaked, totalIssuance *uint256.Int, durationMillis uint64, rate, treasuryCommission types.Perbill) Split {
	percent := inflation.PercentForPeriod(rate, durationMillis)
	total := percent.MulBalance(totalIssuance)
	validator := treasuryCommission.Complement().Mul(percent).MulBalance(totalStaked)
	return Split{
		PercentPerSession: percent,
		TotalInflation:    total,
		ValidatorPayout:   validator,
		Remainder:         types.SaturatingSub(total, validator),
	}
}
