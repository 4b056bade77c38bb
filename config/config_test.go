package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stakechain/crypto"
	"stakechain/native/payout"
)

const testSecretEnv = "STAKECHAIN_GATEWAY_SECRET"

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaults(t *testing.T) {
	t.Setenv(testSecretEnv, "secret")
	t.Setenv(EnvKeystorePassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Auth.HMACSecret != "secret" {
		t.Fatalf("secret not read from env")
	}
	if cfg.ValidatorKeystorePath != filepath.Join(dir, "validator.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.ValidatorKeystorePath)
	}
	if _, err := crypto.LoadFromKeystore(cfg.ValidatorKeystorePath, ""); err != nil {
		t.Fatalf("keystore not usable: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted config: %v", err)
	}
	if strings.Contains(string(raw), "secret\"") {
		t.Fatalf("secret from env must not be persisted:\n%s", raw)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Chain.BlockTime != 6*time.Second {
		t.Fatalf("block time not round-tripped: %v", reloaded.Chain.BlockTime)
	}
	if reloaded.Fees.Default.String() != "1" {
		t.Fatalf("fee policy not round-tripped: %s", reloaded.Fees.Default)
	}
	if got := reloaded.Gateway.RateLimits[LimitCalls]; got.Burst != 20 {
		t.Fatalf("rate limits not round-tripped: %+v", got)
	}
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv(EnvEnvironment, "staging")
	t.Setenv(EnvKeystorePassphrase, "")
	dir := t.TempDir()
	path := writeConfig(t, dir, `DataDir = "./data"
ValidatorKeystorePath = "`+filepath.ToSlash(filepath.Join(dir, "node.keystore"))+`"

[chain]
BlockTime = "2s"
SessionLength = 10
SessionsPerEra = 3
YearBlocks = 1000
DecayYears = 5
MaxCallsPerBlock = 64
Commission = "static:5%"
HistoryDepth = 8

[mempool]
Capacity = 100
RootReservationBPS = 2500

[gateway]
ListenAddress = "127.0.0.1:9000"

[gateway.auth]
Enabled = true
HMACSecret = "inline"

[gateway.rate_limits.calls]
RequestsPerMinute = 30
Burst = 5

[indexer]
Enabled = true
Driver = "postgres"
DSN = "postgres://indexer@localhost/stakechain"

[fees]
default = 3
exempt = ["inflation"]

[fees.domains]
dex = "7"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("env override ignored: %q", cfg.Environment)
	}
	if cfg.Chain.BlockTime != 2*time.Second || cfg.Chain.SessionLength != 10 {
		t.Fatalf("chain section not parsed: %+v", cfg.Chain)
	}
	if _, ok := cfg.Gateway.RateLimits[LimitQuery]; ok {
		t.Fatalf("configured rate limits must replace the defaults")
	}
	if cfg.Gateway.Auth.Issuer != "stakechain" {
		t.Fatalf("omitted keys should keep defaults, got issuer %q", cfg.Gateway.Auth.Issuer)
	}

	rc, err := cfg.Runtime(nil)
	if err != nil {
		t.Fatalf("runtime config: %v", err)
	}
	if rc.Commission.Kind != payout.CommissionStatic || rc.Commission.Rate.String() != "5%" {
		t.Fatalf("unexpected commission %v", rc.Commission)
	}
	if rc.Fees.FeeFor("dex.make_order").Uint64() != 7 || rc.Fees.FeeFor("bank.transfer").Uint64() != 3 {
		t.Fatalf("fee policy not applied")
	}
	if !rc.Fees.FeeFor("inflation.change_inflation").IsZero() {
		t.Fatalf("exempt domain charged")
	}
	if rc.Staking.HistoryDepth != 8 || rc.SessionsPerEra != 3 {
		t.Fatalf("unexpected runtime config %+v", rc)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv(testSecretEnv, "secret")
	dir := t.TempDir()
	path := writeConfig(t, dir, `DataDir = "./data"
ValidatorKey = "deadbeef"

[chain]
Epochs = 4
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected unknown keys to be rejected")
	}
	if !strings.Contains(err.Error(), "ValidatorKey") || !strings.Contains(err.Error(), "chain.Epochs") {
		t.Fatalf("error should name the unknown keys: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"data dir":       func(c *Config) { c.DataDir = " " },
		"block time":     func(c *Config) { c.Chain.BlockTime = 0 },
		"session length": func(c *Config) { c.Chain.SessionLength = 0 },
		"short year":     func(c *Config) { c.Chain.YearBlocks = c.Chain.SessionLength - 1 },
		"commission":     func(c *Config) { c.Chain.Commission = "mean" },
		"reservation":    func(c *Config) { c.Mempool.RootReservationBPS = 10_001 },
		"secret":         func(c *Config) { c.Gateway.Auth.HMACSecret = "" },
		"rate limit":     func(c *Config) { c.Gateway.RateLimits["query"] = RateLimit{} },
		"driver":         func(c *Config) { c.Indexer.Driver = "mysql" },
		"postgres dsn":   func(c *Config) { c.Indexer.Driver = "postgres" },
		"sample ratio":   func(c *Config) { c.Telemetry.SampleRatio = 2 },
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Gateway.Auth.HMACSecret = "secret"
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: defaults should validate: %v", name, err)
		}
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/stakechain"
	if got := cfg.ChainDir(); got != filepath.Join("/var/lib/stakechain", "chain") {
		t.Fatalf("chain dir %q", got)
	}
	if got := cfg.IndexerDSN(); got != filepath.Join("/var/lib/stakechain", "indexer.db") {
		t.Fatalf("indexer dsn %q", got)
	}
	cfg.Gateway.IdempotencyPath = "/tmp/idem.db"
	if got := cfg.IdempotencyStorePath(); got != "/tmp/idem.db" {
		t.Fatalf("idempotency path %q", got)
	}
}
