package payout

import (
	"fmt"
	"sort"
	"strings"

	"stakechain/core/types"
	"stakechain/native/staking"
)

// CommissionKind selects how the commission of an era is derived.
type CommissionKind uint8

const (
	// CommissionStatic applies one fixed rate to every validator.
	CommissionStatic CommissionKind = iota
	// CommissionMedian applies the median of the commissions the era's
	// validators declared.
	CommissionMedian
)

// PrefsSource exposes the per-era validator preferences.
type PrefsSource interface {
	EraValidators(era types.EraIndex) ([]types.AccountID, error)
	ErasValidatorPrefs(era types.EraIndex, stash types.AccountID) (staking.ValidatorPrefs, bool, error)
}

// CommissionAlgorithm is the commission policy. Rate is used by
// CommissionStatic only.
type CommissionAlgorithm struct {
	Kind CommissionKind
	Rate types.Perbill
}

// Static returns a fixed-rate policy.
func Static(rate types.Perbill) CommissionAlgorithm {
	return CommissionAlgorithm{Kind: CommissionStatic, Rate: rate}
}

// Median returns the median policy.
func Median() CommissionAlgorithm {
	return CommissionAlgorithm{Kind: CommissionMedian}
}

// ParseCommissionAlgorithm accepts "median" or "static:<perbill>", e.g.
// "static:5%".
func ParseCommissionAlgorithm(value string) (CommissionAlgorithm, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "median") {
		return Median(), nil
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(trimmed), "static:"); ok {
		rate, err := types.ParsePerbill(rest)
		if err != nil {
			return CommissionAlgorithm{}, fmt.Errorf("payout: static commission: %w", err)
		}
		return Static(rate), nil
	}
	return CommissionAlgorithm{}, fmt.Errorf("payout: unknown commission algorithm %q", value)
}

func (c CommissionAlgorithm) String() string {
	if c.Kind == CommissionMedian {
		return "median"
	}
	return "static:" + c.Rate.String()
}

// Compute returns the commission applied in era.
func (c CommissionAlgorithm) Compute(era types.EraIndex, source PrefsSource) (types.Perbill, error) {
	switch c.Kind {
	case CommissionStatic:
		return c.Rate, nil
	case CommissionMedian:
		validators, err := source.EraValidators(era)
		if err != nil {
			return 0, err
		}
		rates := make([]types.Perbill, 0, len(validators))
		for _, stash := range validators {
			prefs, ok, err := source.ErasValidatorPrefs(era, stash)
			if err != nil {
				return 0, err
			}
			if ok {
				rates = append(rates, prefs.Commission)
			}
		}
		return MedianCommission(rates), nil
	default:
		return 0, fmt.Errorf("payout: unknown commission kind %d", c.Kind)
	}
}

// MedianCommission returns the median of rates. For an even count the two
// middle values are halved before they are added so the sum cannot exceed
// one. An empty list yields zero.
func MedianCommission(rates []types.Perbill) types.Perbill {
	if len(rates) == 0 {
		return 0
	}
	sorted := append([]types.Perbill(nil), rates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Half().SaturatingAdd(sorted[mid].Half())
}
