package events

import "stakechain/core/types"

const (
	TypeInflationChanged                 = "inflation.changed"
	TypeInflationDecayChanged            = "inflation.decay_changed"
	TypeTreasuryCommissionChanged        = "inflation.treasury_commission_changed"
	TypeTreasuryCommissionFromFeeChanged = "inflation.treasury_commission_from_fee_changed"
	// TypeInflationDecayed is emitted by the yearly decay task.
	TypeInflationDecayed = "inflation.decayed"
	// TypeFeeSplit records how a call fee was divided.
	TypeFeeSplit = "fees.split"
)

func perbillAttrs(kind string, value types.Perbill) *types.Event {
	return &types.Event{
		Type: kind,
		Attributes: map[string]string{
			"value": value.String(),
			"parts": uintString(uint64(value.Parts())),
		},
	}
}

type InflationChanged struct{ Value types.Perbill }

func (InflationChanged) EventType() string { return TypeInflationChanged }

func (e InflationChanged) Event() *types.Event { return perbillAttrs(TypeInflationChanged, e.Value) }

type InflationDecayChanged struct{ Value types.Perbill }

func (InflationDecayChanged) EventType() string { return TypeInflationDecayChanged }

func (e InflationDecayChanged) Event() *types.Event {
	return perbillAttrs(TypeInflationDecayChanged, e.Value)
}

type TreasuryCommissionChanged struct{ Value types.Perbill }

func (TreasuryCommissionChanged) EventType() string { return TypeTreasuryCommissionChanged }

func (e TreasuryCommissionChanged) Event() *types.Event {
	return perbillAttrs(TypeTreasuryCommissionChanged, e.Value)
}

type TreasuryCommissionFromFeeChanged struct{ Value types.Perbill }

func (TreasuryCommissionFromFeeChanged) EventType() string {
	return TypeTreasuryCommissionFromFeeChanged
}

func (e TreasuryCommissionFromFeeChanged) Event() *types.Event {
	return perbillAttrs(TypeTreasuryCommissionFromFeeChanged, e.Value)
}

// InflationDecayed carries the rate before and after a yearly decay.
type InflationDecayed struct {
	Previous types.Perbill
	Current  types.Perbill
	Block    types.BlockNumber
}

func (InflationDecayed) EventType() string { return TypeInflationDecayed }

func (e InflationDecayed) Event() *types.Event {
	return &types.Event{
		Type: TypeInflationDecayed,
		Attributes: map[string]string{
			"previous": e.Previous.String(),
			"current":  e.Current.String(),
			"block":    uintString(e.Block),
		},
	}
}
