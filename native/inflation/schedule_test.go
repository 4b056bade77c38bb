package inflation

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/state"
	"stakechain/core/types"
	"stakechain/storage"
)

const yearBlocks = 5_259_600

func newTestSchedule(t *testing.T) (*Schedule, *events.Recorder) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	s := NewSchedule(mgr, yearBlocks)
	rec := &events.Recorder{}
	s.SetEmitter(rec)
	if err := s.Genesis(DefaultParams()); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return s, rec
}

func TestYearlyDecayLadder(t *testing.T) {
	s, rec := newTestSchedule(t)

	if err := s.ApplyYearlyDecay(yearBlocks); err != nil {
		t.Fatalf("first decay: %v", err)
	}
	percent, err := s.InflationPercent()
	if err != nil {
		t.Fatalf("percent: %v", err)
	}
	if percent != 149_280_000 {
		t.Fatalf("after year one: got %d", percent)
	}

	if err := s.ApplyYearlyDecay(2 * yearBlocks); err != nil {
		t.Fatalf("second decay: %v", err)
	}
	percent, _ = s.InflationPercent()
	if percent != 139_278_240 {
		t.Fatalf("after year two: got %d", percent)
	}
	if got := len(rec.Drain()); got != 2 {
		t.Fatalf("expected 2 decay events, got %d", got)
	}
}

func TestDecayTwiceInOnePeriodIsRejected(t *testing.T) {
	s, _ := newTestSchedule(t)
	if err := s.ApplyYearlyDecay(yearBlocks); err != nil {
		t.Fatalf("decay: %v", err)
	}
	before, _ := s.Params()
	err := s.ApplyYearlyDecay(yearBlocks + 10)
	if !errors.Is(err, ErrAlreadyDecayedThisYear) {
		t.Fatalf("expected ErrAlreadyDecayedThisYear, got %v", err)
	}
	after, _ := s.Params()
	if before != after {
		t.Fatalf("state changed on rejected decay: %+v -> %+v", before, after)
	}
}

func TestRewardPoolForFullYear(t *testing.T) {
	s, _ := newTestSchedule(t)
	pool, err := s.RewardPoolForPeriod(uint256.NewInt(10_000), MillisecondsPerYear)
	if err != nil {
		t.Fatalf("reward pool: %v", err)
	}
	if pool.Uint64() != 1600 {
		t.Fatalf("unexpected pool %s", pool)
	}
	half, _ := s.RewardPoolForPeriod(uint256.NewInt(10_000), MillisecondsPerYear/2)
	if half.Uint64() != 800 {
		t.Fatalf("unexpected half-year pool %s", half)
	}
	max := new(uint256.Int).SetAllOne()
	if _, err := s.RewardPoolForPeriod(max, 10*MillisecondsPerYear); err != nil {
		t.Fatalf("huge issuance should saturate, got %v", err)
	}
}

func TestSettersEmitEvents(t *testing.T) {
	s, rec := newTestSchedule(t)
	if err := s.ChangeInflation(types.PerbillFromPercent(8)); err != nil {
		t.Fatalf("change inflation: %v", err)
	}
	if err := s.ChangeInflationDecay(types.PerbillFromPercent(1)); err != nil {
		t.Fatalf("change decay: %v", err)
	}
	if err := s.ChangeTreasuryCommission(types.PerbillFromPercent(5)); err != nil {
		t.Fatalf("change commission: %v", err)
	}
	if err := s.ChangeTreasuryCommissionFromFee(types.PerbillFromPercent(50)); err != nil {
		t.Fatalf("change fee commission: %v", err)
	}
	p, _ := s.Params()
	if p.InflationPercent != types.PerbillFromPercent(8) || p.TreasuryCommissionFromFee != types.PerbillFromPercent(50) {
		t.Fatalf("unexpected params %+v", p)
	}
	drained := rec.Drain()
	want := []string{
		events.TypeInflationChanged,
		events.TypeInflationDecayChanged,
		events.TypeTreasuryCommissionChanged,
		events.TypeTreasuryCommissionFromFeeChanged,
	}
	if len(drained) != len(want) {
		t.Fatalf("unexpected events %v", drained)
	}
	for i, evt := range drained {
		if evt.EventType() != want[i] {
			t.Fatalf("event %d: got %s want %s", i, evt.EventType(), want[i])
		}
	}
}

func TestSplitFee(t *testing.T) {
	s, _ := newTestSchedule(t)
	treasury, author, err := s.SplitFee(uint256.NewInt(1001))
	if err != nil {
		t.Fatalf("split fee: %v", err)
	}
	if treasury.Uint64() != 200 || author.Uint64() != 801 {
		t.Fatalf("unexpected split %s/%s", treasury, author)
	}
}
