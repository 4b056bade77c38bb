package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"stakechain/core/types"
	"stakechain/native/inflation"
	"stakechain/native/staking"
)

// Staker roles.
const (
	RoleValidator = "validator"
	RoleNominator = "nominator"
	RoleIdle      = "idle"
)

// GenesisSpec is the initial chain state. It is read from JSON or, for
// .yaml/.yml files, YAML; both use the same camelCase keys.
type GenesisSpec struct {
	GenesisTime string         `json:"genesisTime" yaml:"genesisTime"`
	Treasury    string         `json:"treasury,omitempty" yaml:"treasury,omitempty"`
	Balances    []BalanceSpec  `json:"balances" yaml:"balances"`
	DexAssets   []uint32       `json:"dexAssets,omitempty" yaml:"dexAssets,omitempty"`
	Stakers     []StakerSpec   `json:"stakers" yaml:"stakers"`
	Inflation   *InflationSpec `json:"inflation,omitempty" yaml:"inflation,omitempty"`

	genesisTimestamp time.Time
	treasury         types.AccountID
	allocations      []Allocation
	stakers          []Staker
	inflation        inflation.Params
}

type BalanceSpec struct {
	Account string `json:"account" yaml:"account"`
	Asset   uint32 `json:"asset" yaml:"asset"`
	Amount  string `json:"amount" yaml:"amount"`
}

type StakerSpec struct {
	Stash      string   `json:"stash" yaml:"stash"`
	Controller string   `json:"controller,omitempty" yaml:"controller,omitempty"`
	Bond       string   `json:"bond" yaml:"bond"`
	Role       string   `json:"role" yaml:"role"`
	Commission string   `json:"commission,omitempty" yaml:"commission,omitempty"`
	Targets    []string `json:"targets,omitempty" yaml:"targets,omitempty"`
	Payee      string   `json:"payee,omitempty" yaml:"payee,omitempty"`
}

// InflationSpec overrides the launch inflation parameters. Values accept
// "16%" or raw parts per billion; empty fields keep the default.
type InflationSpec struct {
	Percent                   string `json:"percent,omitempty" yaml:"percent,omitempty"`
	Decay                     string `json:"decay,omitempty" yaml:"decay,omitempty"`
	TreasuryCommission        string `json:"treasuryCommission,omitempty" yaml:"treasuryCommission,omitempty"`
	TreasuryCommissionFromFee string `json:"treasuryCommissionFromFee,omitempty" yaml:"treasuryCommissionFromFee,omitempty"`
}

// Allocation is a resolved balance entry.
type Allocation struct {
	Account types.AccountID
	Asset   types.AssetID
	Amount  *uint256.Int
}

// Staker is a resolved staker entry.
type Staker struct {
	Stash      types.AccountID
	Controller types.AccountID
	Bond       *uint256.Int
	Role       string
	Commission types.Perbill
	Targets    []types.AccountID
	Payee      staking.RewardDestination
}

// LoadGenesisSpec reads and validates the genesis file at path. Unknown keys
// are rejected in both formats.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }
func (s *GenesisSpec) TreasuryAccount() types.AccountID { return s.treasury }
func (s *GenesisSpec) Allocations() []Allocation { return s.allocations }
func (s *GenesisSpec) StakerEntries() []Staker { return s.stakers }
func (s *GenesisSpec) InflationParams() inflation.Params { return s.inflation }

// Validate parses every field and resolves the typed views. It must be called
// on specs built in code before handing them to the runtime.
func (s *GenesisSpec) Validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	s.treasury = types.ModuleAccount("treasury")
	if strings.TrimSpace(s.Treasury) != "" {
		if s.treasury, err = types.ParseAccountID(s.Treasury); err != nil {
			return fmt.Errorf("treasury: %w", err)
		}
	}

	s.allocations = s.allocations[:0]
	for i, b := range s.Balances {
		account, err := types.ParseAccountID(b.Account)
		if err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		amount, err := parseAmountString(b.Amount)
		if err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		s.allocations = append(s.allocations, Allocation{Account: account, Asset: types.AssetID(b.Asset), Amount: amount})
	}
	sort.SliceStable(s.allocations, func(i, j int) bool {
		a, b := s.allocations[i], s.allocations[j]
		if a.Account != b.Account {
			return a.Account.Less(b.Account)
		}
		return a.Asset < b.Asset
	})

	seenAssets := make(map[uint32]struct{}, len(s.DexAssets))
	for _, asset := range s.DexAssets {
		if _, dup := seenAssets[asset]; dup {
			return fmt.Errorf("dexAssets: duplicate asset %d", asset)
		}
		seenAssets[asset] = struct{}{}
	}

	if err := s.validateStakers(); err != nil {
		return err
	}
	return s.validateInflation()
}

func (s *GenesisSpec) validateStakers() error {
	s.stakers = s.stakers[:0]
	seen := make(map[types.AccountID]struct{}, len(s.Stakers))
	validators := make(map[types.AccountID]struct{})
	for i := range s.Stakers {
		st, err := s.Stakers[i].resolve()
		if err != nil {
			return fmt.Errorf("stakers[%d]: %w", i, err)
		}
		if _, dup := seen[st.Stash]; dup {
			return fmt.Errorf("stakers[%d]: duplicate stash %s", i, st.Stash)
		}
		seen[st.Stash] = struct{}{}
		if st.Role == RoleValidator {
			validators[st.Stash] = struct{}{}
		}
		s.stakers = append(s.stakers, st)
	}
	for i, st := range s.stakers {
		for _, target := range st.Targets {
			if _, ok := validators[target]; !ok {
				return fmt.Errorf("stakers[%d]: target %s is not a genesis validator", i, target)
			}
		}
	}
	// Validators first so nominations always find their targets.
	sort.SliceStable(s.stakers, func(i, j int) bool {
		return s.stakers[i].Role == RoleValidator && s.stakers[j].Role != RoleValidator
	})
	return nil
}

func (sp *StakerSpec) resolve() (Staker, error) {
	var out Staker
	var err error
	if out.Stash, err = types.ParseAccountID(sp.Stash); err != nil {
		return out, fmt.Errorf("stash: %w", err)
	}
	out.Controller = out.Stash
	if strings.TrimSpace(sp.Controller) != "" {
		if out.Controller, err = types.ParseAccountID(sp.Controller); err != nil {
			return out, fmt.Errorf("controller: %w", err)
		}
	}
	if out.Bond, err = parseAmountString(sp.Bond); err != nil {
		return out, fmt.Errorf("bond: %w", err)
	}
	if out.Bond.IsZero() {
		return out, fmt.Errorf("bond must be positive")
	}
	out.Role = strings.ToLower(strings.TrimSpace(sp.Role))
	switch out.Role {
	case "":
		out.Role = RoleIdle
	case RoleValidator, RoleNominator, RoleIdle:
	default:
		return out, fmt.Errorf("unknown role %q", sp.Role)
	}
	if strings.TrimSpace(sp.Commission) != "" {
		if out.Role != RoleValidator {
			return out, fmt.Errorf("commission is only valid for validators")
		}
		if out.Commission, err = types.ParsePerbill(sp.Commission); err != nil {
			return out, fmt.Errorf("commission: %w", err)
		}
	}
	if len(sp.Targets) > 0 && out.Role != RoleNominator {
		return out, fmt.Errorf("targets are only valid for nominators")
	}
	if out.Role == RoleNominator && len(sp.Targets) == 0 {
		return out, fmt.Errorf("nominator must have targets")
	}
	for _, raw := range sp.Targets {
		target, err := types.ParseAccountID(raw)
		if err != nil {
			return out, fmt.Errorf("target: %w", err)
		}
		out.Targets = append(out.Targets, target)
	}
	if out.Payee, err = staking.ParseRewardDestination(sp.Payee); err != nil {
		return out, err
	}
	return out, nil
}

func (s *GenesisSpec) validateInflation() error {
	s.inflation = inflation.DefaultParams()
	if s.Inflation == nil {
		return nil
	}
	for _, field := range []struct {
		name  string
		value string
		dst   *types.Perbill
	}{
		{"inflation.percent", s.Inflation.Percent, &s.inflation.InflationPercent},
		{"inflation.decay", s.Inflation.Decay, &s.inflation.InflationDecay},
		{"inflation.treasuryCommission", s.Inflation.TreasuryCommission, &s.inflation.TreasuryCommission},
		{"inflation.treasuryCommissionFromFee", s.Inflation.TreasuryCommissionFromFee, &s.inflation.TreasuryCommissionFromFee},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		parsed, err := types.ParsePerbill(field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = parsed
	}
	return nil
}

func parseAmountString(value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	return types.ParseBalance(value)
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
