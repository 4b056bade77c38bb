package genesis

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"stakechain/core/types"
	"stakechain/native/staking"
)

func testAccount(b byte) types.AccountID { return types.AccountID{b} }

func writeSpec(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return path
}

func TestLoadGenesisSpecJSON(t *testing.T) {
	validator, nominator := testAccount(1), testAccount(2)
	body := fmt.Sprintf(`{
  "genesisTime": "2024-01-01T00:00:00Z",
  "balances": [
    {"account": %q, "asset": 0, "amount": "5000"},
    {"account": %q, "asset": 777, "amount": "10"}
  ],
  "dexAssets": [777, 888],
  "stakers": [
    {"stash": %q, "bond": "400", "role": "nominator", "targets": [%q], "payee": "stash"},
    {"stash": %q, "bond": "1000", "role": "validator", "commission": "5%%"}
  ],
  "inflation": {"percent": "12%%"}
}`, validator, nominator, nominator, validator, validator)

	spec, err := LoadGenesisSpec(writeSpec(t, "genesis.json", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if spec.GenesisTimestamp().Year() != 2024 {
		t.Fatalf("unexpected genesis time %v", spec.GenesisTimestamp())
	}
	if spec.TreasuryAccount() != types.ModuleAccount("treasury") {
		t.Fatalf("treasury should default to the module account")
	}
	allocs := spec.Allocations()
	if len(allocs) != 2 || allocs[0].Account != validator || allocs[0].Amount.Uint64() != 5000 {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
	stakers := spec.StakerEntries()
	if len(stakers) != 2 || stakers[0].Role != RoleValidator {
		t.Fatalf("validators must sort first: %+v", stakers)
	}
	if stakers[0].Commission != types.PerbillFromPercent(5) || stakers[0].Controller != validator {
		t.Fatalf("unexpected validator entry %+v", stakers[0])
	}
	if stakers[1].Payee.Kind != staking.DestinationStash || stakers[1].Targets[0] != validator {
		t.Fatalf("unexpected nominator entry %+v", stakers[1])
	}
	params := spec.InflationParams()
	if params.InflationPercent != types.PerbillFromPercent(12) || params.InflationDecay != 67_000_000 {
		t.Fatalf("unexpected inflation params %+v", params)
	}
}

func TestLoadGenesisSpecYAML(t *testing.T) {
	validator := testAccount(9)
	body := fmt.Sprintf(`genesisTime: "2024-06-01T12:00:00Z"
treasury: %q
balances:
  - account: %q
    asset: 0
    amount: "100"
stakers:
  - stash: %q
    bond: "50"
    role: validator
`, testAccount(7), validator, validator)

	spec, err := LoadGenesisSpec(writeSpec(t, "genesis.yaml", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if spec.TreasuryAccount() != testAccount(7) {
		t.Fatalf("unexpected treasury %s", spec.TreasuryAccount())
	}
	if spec.StakerEntries()[0].Payee.Kind != staking.DestinationStaked {
		t.Fatalf("payee should default to staked")
	}
	if spec.InflationParams().InflationPercent != types.PerbillFromPercent(16) {
		t.Fatalf("inflation should default to 16%%")
	}
}

func TestGenesisSpecRejectsInvalidInput(t *testing.T) {
	validator := testAccount(1)
	cases := map[string]string{
		"unknown field":   `{"genesisTime": "2024-01-01T00:00:00Z", "bogus": 1}`,
		"missing time":    `{"balances": []}`,
		"bad amount":      fmt.Sprintf(`{"genesisTime": "2024-01-01T00:00:00Z", "balances": [{"account": %q, "asset": 0, "amount": "-1"}]}`, validator),
		"unknown target":  fmt.Sprintf(`{"genesisTime": "2024-01-01T00:00:00Z", "stakers": [{"stash": %q, "bond": "1", "role": "nominator", "targets": [%q]}]}`, validator, testAccount(3)),
		"duplicate asset": `{"genesisTime": "2024-01-01T00:00:00Z", "dexAssets": [1, 1]}`,
		"bad commission":  fmt.Sprintf(`{"genesisTime": "2024-01-01T00:00:00Z", "stakers": [{"stash": %q, "bond": "1", "role": "validator", "commission": "120%%"}]}`, validator),
	}
	for name, body := range cases {
		if _, err := LoadGenesisSpec(writeSpec(t, "genesis.json", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
