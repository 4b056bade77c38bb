package inflation

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
)

// MillisecondsPerYear is a julian year (365.25 days), which keeps the
// per-session share stable across leap years.
const MillisecondsPerYear uint64 = 31_557_600_000

var (
	// ErrAlreadyDecayedThisYear is returned when the yearly decay runs again
	// before a full decay period has elapsed. State is left unchanged.
	ErrAlreadyDecayedThisYear = errors.New("inflation: already decayed this year")

	percentKey            = []byte("inflation/percent")
	decayKey              = []byte("inflation/decay")
	lastDecayKey          = []byte("inflation/last-decay")
	treasuryCommissionKey = []byte("inflation/treasury-commission")
	treasuryFromFeeKey    = []byte("inflation/treasury-commission-from-fee")
)

// Storage abstracts the subset of state manager functionality required by the
// schedule.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Params is a snapshot of the schedule.
type Params struct {
	InflationPercent          types.Perbill     `json:"inflationPercent"`
	InflationDecay            types.Perbill     `json:"inflationDecay"`
	TreasuryCommission        types.Perbill     `json:"treasuryCommission"`
	TreasuryCommissionFromFee types.Perbill     `json:"treasuryCommissionFromFee"`
	LastDecay                 types.BlockNumber `json:"lastDecay"`
}

// DefaultParams are the launch values: 16% yearly inflation decaying by 6.7%
// per year, 10% of staking rewards and 20% of fees to the treasury.
func DefaultParams() Params {
	return Params{
		InflationPercent:          types.PerbillFromPercent(16),
		InflationDecay:            types.PerbillFromParts(67_000_000),
		TreasuryCommission:        types.PerbillFromPercent(10),
		TreasuryCommissionFromFee: types.PerbillFromPercent(20),
	}
}

// Schedule holds the yearly inflation rate, its decay and the treasury
// commissions.
type Schedule struct {
	store       Storage
	emitter     events.Emitter
	decayPeriod types.BlockNumber
}

// NewSchedule returns a schedule whose decay may run at most once every
// decayPeriod blocks.
func NewSchedule(store Storage, decayPeriod types.BlockNumber) *Schedule {
	return &Schedule{store: store, emitter: events.NoopEmitter{}, decayPeriod: decayPeriod}
}

// SetEmitter configures the event sink.
func (s *Schedule) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

// DecayPeriod returns the minimum distance in blocks between two decays.
func (s *Schedule) DecayPeriod() types.BlockNumber {
	return s.decayPeriod
}

// Genesis writes the initial parameters.
func (s *Schedule) Genesis(p Params) error {
	for _, kv := range []struct {
		key   []byte
		value types.Perbill
	}{
		{percentKey, p.InflationPercent},
		{decayKey, p.InflationDecay},
		{treasuryCommissionKey, p.TreasuryCommission},
		{treasuryFromFeeKey, p.TreasuryCommissionFromFee},
	} {
		if err := s.putPerbill(kv.key, kv.value); err != nil {
			return err
		}
	}
	return s.store.KVPut(lastDecayKey, p.LastDecay)
}

func (s *Schedule) getPerbill(key []byte) (types.Perbill, error) {
	var parts uint32
	if _, err := s.store.KVGet(key, &parts); err != nil {
		return 0, fmt.Errorf("inflation: load %s: %w", key, err)
	}
	return types.PerbillFromParts(parts), nil
}

func (s *Schedule) putPerbill(key []byte, value types.Perbill) error {
	return s.store.KVPut(key, value.Parts())
}

// Params returns the stored parameters.
func (s *Schedule) Params() (Params, error) {
	var (
		p   Params
		err error
	)
	if p.InflationPercent, err = s.getPerbill(percentKey); err != nil {
		return Params{}, err
	}
	if p.InflationDecay, err = s.getPerbill(decayKey); err != nil {
		return Params{}, err
	}
	if p.TreasuryCommission, err = s.getPerbill(treasuryCommissionKey); err != nil {
		return Params{}, err
	}
	if p.TreasuryCommissionFromFee, err = s.getPerbill(treasuryFromFeeKey); err != nil {
		return Params{}, err
	}
	if _, err := s.store.KVGet(lastDecayKey, &p.LastDecay); err != nil {
		return Params{}, err
	}
	return p, nil
}

// InflationPercent returns the current yearly rate.
func (s *Schedule) InflationPercent() (types.Perbill, error) {
	return s.getPerbill(percentKey)
}

// TreasuryCommission returns the treasury share of staking rewards.
func (s *Schedule) TreasuryCommission() (types.Perbill, error) {
	return s.getPerbill(treasuryCommissionKey)
}

// PercentForPeriod scales the yearly rate down to elapsedMillis.
func (s *Schedule) PercentForPeriod(elapsedMillis uint64) (types.Perbill, error) {
	percent, err := s.InflationPercent()
	if err != nil {
		return 0, err
	}
	return PercentForPeriod(percent, elapsedMillis), nil
}

// RewardPoolForPeriod returns the inflation minted against totalIssuance
// over elapsedMillis.
func (s *Schedule) RewardPoolForPeriod(totalIssuance *uint256.Int, elapsedMillis uint64) (*uint256.Int, error) {
	percent, err := s.PercentForPeriod(elapsedMillis)
	if err != nil {
		return nil, err
	}
	return percent.MulBalance(totalIssuance), nil
}

// PercentForPeriod is inflation * elapsed/year, both steps rounding down.
// Periods of a year or longer saturate to the full yearly rate.
func PercentForPeriod(inflation types.Perbill, elapsedMillis uint64) types.Perbill {
	return types.PerbillFromRational(elapsedMillis, MillisecondsPerYear).Mul(inflation)
}

// ApplyYearlyDecay reduces the rate by rate*decay. It fails with
// ErrAlreadyDecayedThisYear when less than a decay period has passed since the
// previous decay.
func (s *Schedule) ApplyYearlyDecay(now types.BlockNumber) error {
	p, err := s.Params()
	if err != nil {
		return err
	}
	if now < p.LastDecay || now-p.LastDecay < s.decayPeriod {
		return fmt.Errorf("%w: last decay at block %d, now %d", ErrAlreadyDecayedThisYear, p.LastDecay, now)
	}
	next := p.InflationPercent.SaturatingSub(p.InflationPercent.Mul(p.InflationDecay))
	if err := s.putPerbill(percentKey, next); err != nil {
		return err
	}
	if err := s.store.KVPut(lastDecayKey, now); err != nil {
		return err
	}
	s.emitter.Emit(events.InflationDecayed{Previous: p.InflationPercent, Current: next, Block: now})
	return nil
}

// ChangeInflation sets the yearly rate.
func (s *Schedule) ChangeInflation(value types.Perbill) error {
	if err := s.putPerbill(percentKey, value); err != nil {
		return err
	}
	s.emitter.Emit(events.InflationChanged{Value: value})
	return nil
}

// ChangeInflationDecay sets the yearly decay.
func (s *Schedule) ChangeInflationDecay(value types.Perbill) error {
	if err := s.putPerbill(decayKey, value); err != nil {
		return err
	}
	s.emitter.Emit(events.InflationDecayChanged{Value: value})
	return nil
}

// ChangeTreasuryCommission sets the treasury share of staking rewards.
func (s *Schedule) ChangeTreasuryCommission(value types.Perbill) error {
	if err := s.putPerbill(treasuryCommissionKey, value); err != nil {
		return err
	}
	s.emitter.Emit(events.TreasuryCommissionChanged{Value: value})
	return nil
}

// ChangeTreasuryCommissionFromFee sets the treasury share of call fees.
func (s *Schedule) ChangeTreasuryCommissionFromFee(value types.Perbill) error {
	if err := s.putPerbill(treasuryFromFeeKey, value); err != nil {
		return err
	}
	s.emitter.Emit(events.TreasuryCommissionFromFeeChanged{Value: value})
	return nil
}

// SplitFee divides a call fee into the treasury share and what is left for
// the block author. The two parts always add up to fee.
func (s *Schedule) SplitFee(fee *uint256.Int) (treasury, author *uint256.Int, err error) {
	commission, err := s.getPerbill(treasuryFromFeeKey)
	if err != nil {
		return nil, nil, err
	}
	treasury = commission.MulBalance(fee)
	return treasury, types.SaturatingSub(fee, treasury), nil
}
