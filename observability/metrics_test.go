package observability

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	family := gather(t, name)
	if family == nil {
		return 0
	}
	for _, m := range family.GetMetric() {
		if labelsMatch(m, labels) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestPayoutMetrics(t *testing.T) {
	m := Payout()
	before := counterValue(t, "stakechain_payout_paid_total", nil)
	m.RecordSession(uint256.NewInt(900), uint256.NewInt(850), uint256.NewInt(150))
	m.RecordFailure(" ")
	m.SetInflationRate(160_000_000)

	if got := counterValue(t, "stakechain_payout_paid_total", nil) - before; got != 850 {
		t.Fatalf("paid delta = %v, want 850", got)
	}
	if got := counterValue(t, "stakechain_payout_validator_failures_total", map[string]string{"reason": "unspecified"}); got < 1 {
		t.Fatalf("failure not counted")
	}
	gauge := gather(t, "stakechain_inflation_rate")
	if gauge == nil || gauge.GetMetric()[0].GetGauge().GetValue() != 0.16 {
		t.Fatalf("unexpected inflation gauge %v", gauge)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	labels := map[string]string{"module": "calls", "method": "POST", "status": "429"}
	before := counterValue(t, "stakechain_gateway_errors_total", labels)
	ModuleMetrics().Observe("calls", "POST", 429, 5*time.Millisecond)
	ModuleMetrics().Observe("calls", "POST", 202, time.Millisecond)
	if got := counterValue(t, "stakechain_gateway_errors_total", labels) - before; got != 1 {
		t.Fatalf("error delta = %v, want 1", got)
	}
	family := gather(t, "stakechain_gateway_request_duration_seconds")
	if family == nil {
		t.Fatalf("latency histogram not registered")
	}
	for _, m := range family.GetMetric() {
		if labelsMatch(m, map[string]string{"module": "calls", "method": "POST"}) && m.GetHistogram().GetSampleCount() >= 2 {
			return
		}
	}
	t.Fatalf("latency samples missing")
}

func TestDexOpenOrdersGauge(t *testing.T) {
	m := Dex()
	gauge := func() float64 {
		family := gather(t, "stakechain_dex_open_orders")
		if family == nil {
			return 0
		}
		return family.GetMetric()[0].GetGauge().GetValue()
	}
	before := gauge()
	m.RecordOrder("created")
	m.RecordOrder("created")
	m.RecordOrder("taken")
	if got := gauge() - before; got != 1 {
		t.Fatalf("open orders delta = %v, want 1", got)
	}
}

func TestBalanceToFloat(t *testing.T) {
	if balanceToFloat(nil) != 0 {
		t.Fatalf("nil balance should be zero")
	}
	if got := balanceToFloat(uint256.NewInt(42)); got != 42 {
		t.Fatalf("balanceToFloat(42) = %v", got)
	}
}
