package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"stakechain/core/runtime"
	"stakechain/crypto"
	"stakechain/native/fees"
	"stakechain/native/payout"
)

const (
	// EnvEnvironment names the deployment environment attached to logs and
	// traces.
	EnvEnvironment = "STAKECHAIN_ENV"
	// EnvKeystorePassphrase holds the validator keystore passphrase.
	EnvKeystorePassphrase = "STAKECHAIN_KEYSTORE_PASSPHRASE"
)

// Rate limit keys understood by the gateway.
const (
	LimitQuery = "query"
	LimitCalls = "calls"
)

type Config struct {
	DataDir               string `toml:"DataDir"`
	GenesisFile           string `toml:"GenesisFile"`
	ValidatorKeystorePath string `toml:"ValidatorKeystorePath"`
	Environment           string `toml:"Environment"`

	Chain     Chain     `toml:"chain"`
	Mempool   Mempool   `toml:"mempool"`
	Gateway   Gateway   `toml:"gateway"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Indexer   Indexer   `toml:"indexer"`
	Fees      Fees      `toml:"fees"`

	passphrase PassphraseFunc
}

// PassphraseFunc resolves the validator keystore passphrase.
type PassphraseFunc func() (string, error)

// EnvPassphrase reads the passphrase from EnvKeystorePassphrase; unset means
// an unencrypted development keystore.
func EnvPassphrase() (string, error) {
	return os.Getenv(EnvKeystorePassphrase), nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	stakingDefaults := runtime.DefaultConfig()
	return &Config{
		DataDir:     "./stakechain-data",
		Environment: "local",
		Chain: Chain{
			BlockTime:                        6 * time.Second,
			SessionLength:                    stakingDefaults.SessionLength,
			SessionsPerEra:                   stakingDefaults.SessionsPerEra,
			YearBlocks:                       stakingDefaults.YearBlocks,
			DecayYears:                       stakingDefaults.DecayYears,
			AuthoringPoints:                  stakingDefaults.AuthoringPoints,
			MaxCallsPerBlock:                 512,
			Commission:                       stakingDefaults.Commission.String(),
			HistoryDepth:                     stakingDefaults.Staking.HistoryDepth,
			MaxNominations:                   stakingDefaults.Staking.MaxNominations,
			MaxNominatorRewardedPerValidator: stakingDefaults.Staking.MaxNominatorRewardedPerValidator,
		},
		Mempool: Mempool{
			Capacity:           10_000,
			RootReservationBPS: 1_000,
		},
		Gateway: Gateway{
			ListenAddress:     ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			AllowedOrigins:    []string{},
			IdempotencyTTL:    24 * time.Hour,
			Auth: Auth{
				Enabled:       true,
				HMACSecretEnv: "STAKECHAIN_GATEWAY_SECRET",
				Issuer:        "stakechain",
				ScopeClaim:    "scope",
				ClockSkew:     30 * time.Second,
			},
			RateLimits: map[string]RateLimit{
				LimitQuery: {RequestsPerMinute: 600, Burst: 60},
				LimitCalls: {RequestsPerMinute: 120, Burst: 20},
			},
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1,
		},
		Indexer: Indexer{
			Enabled: true,
			Driver:  "sqlite",
		},
		Fees: stakingDefaults.Fees.Clone(),
	}
}

// Load reads the configuration at path. A missing file is replaced by the
// defaults, which are persisted together with a freshly generated validator
// keystore. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	return LoadWithPassphrase(path, EnvPassphrase)
}

// LoadWithPassphrase is Load with an explicit keystore passphrase source.
func LoadWithPassphrase(path string, passphrase PassphraseFunc) (*Config, error) {
	if passphrase == nil {
		passphrase = EnvPassphrase
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return createDefault(path, passphrase)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.passphrase = passphrase
	// Decoding into the defaults keeps omitted keys at their default value;
	// maps are replaced rather than merged.
	cfg.Gateway.RateLimits = nil
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if cfg.Gateway.RateLimits == nil {
		cfg.Gateway.RateLimits = Default().Gateway.RateLimits
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string, passphrase PassphraseFunc) (*Config, error) {
	cfg := Default()
	cfg.passphrase = passphrase
	cfg.ValidatorKeystorePath = defaultKeystorePath(path)
	if err := cfg.ensureKey(); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.ValidatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	changed := cfg.ValidatorKeystorePath != keystorePath
	cfg.ValidatorKeystorePath = keystorePath
	if err := cfg.ensureKey(); err != nil {
		return err
	}
	if changed {
		return persist(configPath, cfg)
	}
	return nil
}

func (c *Config) ensureKey() error {
	passphrase, err := c.resolvePassphrase()
	if err != nil {
		return err
	}
	_, _, err = crypto.LoadOrCreateKeystore(c.ValidatorKeystorePath, passphrase)
	return err
}

func (c *Config) resolvePassphrase() (string, error) {
	if c.passphrase == nil {
		return EnvPassphrase()
	}
	return c.passphrase()
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
	if name := strings.TrimSpace(c.Gateway.Auth.HMACSecretEnv); name != "" {
		if secret := os.Getenv(name); secret != "" {
			c.Gateway.Auth.HMACSecret = secret
		}
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." {
		dir = ""
	}
	return filepath.Join(dir, "validator.keystore")
}

// NodeKey decrypts the validator keystore.
func (c *Config) NodeKey() (*crypto.PrivateKey, error) {
	passphrase, err := c.resolvePassphrase()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(c.ValidatorKeystorePath, passphrase)
}

// ChainDir is where the block and state database lives.
func (c *Config) ChainDir() string {
	return filepath.Join(c.DataDir, "chain")
}

// IdempotencyStorePath resolves the bbolt file backing call idempotency.
func (c *Config) IdempotencyStorePath() string {
	if path := strings.TrimSpace(c.Gateway.IdempotencyPath); path != "" {
		return path
	}
	return filepath.Join(c.DataDir, "idempotency.db")
}

// IndexerDSN resolves the indexer connection string. SQLite defaults to a
// file in the data directory.
func (c *Config) IndexerDSN() string {
	if dsn := strings.TrimSpace(c.Indexer.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.DataDir, "indexer.db")
}

// Runtime converts the chain section into the runtime configuration.
func (c *Config) Runtime(logger *slog.Logger) (runtime.Config, error) {
	commission, err := payout.ParseCommissionAlgorithm(c.Chain.Commission)
	if err != nil {
		return runtime.Config{}, err
	}
	rc := runtime.DefaultConfig()
	rc.SessionLength = c.Chain.SessionLength
	rc.SessionsPerEra = c.Chain.SessionsPerEra
	rc.YearBlocks = c.Chain.YearBlocks
	rc.DecayYears = c.Chain.DecayYears
	rc.AuthoringPoints = c.Chain.AuthoringPoints
	rc.Commission = commission
	rc.Fees = fees.Policy(c.Fees).Clone()
	rc.Staking.HistoryDepth = c.Chain.HistoryDepth
	rc.Staking.MaxNominations = c.Chain.MaxNominations
	rc.Staking.MaxNominatorRewardedPerValidator = c.Chain.MaxNominatorRewardedPerValidator
	rc.Logger = logger
	return rc, rc.Validate()
}
