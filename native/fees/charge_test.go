package fees

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/state"
	"stakechain/core/types"
	"stakechain/native/bank"
	"stakechain/native/inflation"
	"stakechain/storage"
)

func TestPolicyFeeFor(t *testing.T) {
	policy := Policy{
		Default: NewAmount(10),
		Domains: map[string]Amount{" DEX ": NewAmount(25)},
		Exempt:  []string{"Inflation"},
	}
	cases := map[string]uint64{
		"bank.transfer":              10,
		"dex.make_order":             25,
		"inflation.change_inflation": 0,
		"staking.bond":               10,
	}
	for call, want := range cases {
		if got := policy.FeeFor(call).Uint64(); got != want {
			t.Fatalf("%s: got %d want %d", call, got, want)
		}
	}
	if got := (Policy{}).FeeFor("bank.transfer"); got == nil || !got.IsZero() {
		t.Fatalf("empty policy should be free, got %v", got)
	}
}

func TestPolicyDecodesTOMLAndJSON(t *testing.T) {
	var payload struct {
		Fees Policy `toml:"fees"`
	}
	raw := "[fees]\ndefault = 5\nexempt = [\"inflation\"]\n[fees.domains]\ndex = \"340282366920938463463374607431768211456\"\n"
	if _, err := toml.Decode(raw, &payload); err != nil {
		t.Fatalf("toml decode: %v", err)
	}
	if payload.Fees.Default.Int().Uint64() != 5 {
		t.Fatalf("default: got %s", payload.Fees.Default)
	}
	want, _ := uint256.FromDecimal("340282366920938463463374607431768211456")
	if !payload.Fees.FeeFor("dex.take_order").Eq(want) {
		t.Fatalf("dex fee: got %s", payload.Fees.FeeFor("dex.take_order"))
	}

	var fromJSON Policy
	if err := json.Unmarshal([]byte(`{"default":"7","domains":{"bank":3}}`), &fromJSON); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if fromJSON.FeeFor("bank.transfer").Uint64() != 3 || fromJSON.FeeFor("staking.chill").Uint64() != 7 {
		t.Fatalf("unexpected json policy %+v", fromJSON)
	}
	if err := json.Unmarshal([]byte(`{"default":"-1"}`), &fromJSON); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
}

func TestChargeSplitsFee(t *testing.T) {
	mgr, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	ledger := bank.NewLedger(mgr)
	schedule := inflation.NewSchedule(mgr, 100)
	if err := schedule.Genesis(inflation.DefaultParams()); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	payer, author, treasury := types.AccountID{1}, types.AccountID{2}, types.ModuleAccount("treasury")
	if err := ledger.Issue(types.NativeAsset, payer, uint256.NewInt(150)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	charger := NewCharger(Policy{Default: NewAmount(100)}, ledger, schedule, treasury)
	rec := &events.Recorder{}
	charger.SetEmitter(rec)

	result, err := charger.Charge(payer, author, "bank.transfer")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	// Default fee commission is 20%.
	if result.Treasury.Uint64() != 20 || result.Author.Uint64() != 80 {
		t.Fatalf("unexpected split %s/%s", result.Treasury, result.Author)
	}
	for who, want := range map[types.AccountID]uint64{payer: 50, author: 80, treasury: 20} {
		bal, err := ledger.Balance(types.NativeAsset, who)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal.Uint64() != want {
			t.Fatalf("%s: got %s want %d", who, bal, want)
		}
	}
	issuance, err := ledger.TotalIssuance(types.NativeAsset)
	if err != nil || issuance.Uint64() != 150 {
		t.Fatalf("issuance changed: %v %v", issuance, err)
	}
	if drained := rec.Drain(); len(drained) != 1 || drained[0].EventType() != events.TypeFeeSplit {
		t.Fatalf("expected a single fee split event, got %d", len(drained))
	}

	if _, err := charger.Charge(payer, author, "bank.transfer"); !errors.Is(err, ErrCannotPayFee) {
		t.Fatalf("expected ErrCannotPayFee, got %v", err)
	}
}
