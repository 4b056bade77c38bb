package config

import (
	"time"

	"stakechain/native/fees"
)

// Chain controls block cadence and the staking economy. Lengths are counted
// in blocks.
type Chain struct {
	BlockTime        time.Duration `toml:"BlockTime"`
	SessionLength    uint64        `toml:"SessionLength"`
	SessionsPerEra   uint32        `toml:"SessionsPerEra"`
	YearBlocks       uint64        `toml:"YearBlocks"`
	DecayYears       uint32        `toml:"DecayYears"`
	AuthoringPoints  uint32        `toml:"AuthoringPoints"`
	MaxCallsPerBlock int           `toml:"MaxCallsPerBlock"`
	// Commission is "median" or "static:<rate>", e.g. "static:5%".
	Commission                       string `toml:"Commission"`
	HistoryDepth                     uint32 `toml:"HistoryDepth"`
	MaxNominations                   uint32 `toml:"MaxNominations"`
	MaxNominatorRewardedPerValidator uint32 `toml:"MaxNominatorRewardedPerValidator"`
}

// Mempool bounds the pending call queue.
type Mempool struct {
	Capacity int `toml:"Capacity"`
	// RootReservationBPS is the share of each block kept for privileged
	// calls, in basis points.
	RootReservationBPS uint32 `toml:"RootReservationBPS"`
}

// RateLimit is a token bucket refilled RequestsPerMinute times a minute.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// Auth configures JWT verification for call submission.
type Auth struct {
	Enabled bool `toml:"Enabled"`
	// HMACSecretEnv names the environment variable holding the secret. It
	// wins over HMACSecret when set and non-empty.
	HMACSecret    string        `toml:"HMACSecret"`
	HMACSecretEnv string        `toml:"HMACSecretEnv"`
	Issuer        string        `toml:"Issuer"`
	Audience      string        `toml:"Audience"`
	ScopeClaim    string        `toml:"ScopeClaim"`
	ClockSkew     time.Duration `toml:"ClockSkew"`
}

// Gateway is the HTTP API.
type Gateway struct {
	ListenAddress     string               `toml:"ListenAddress"`
	ReadHeaderTimeout time.Duration        `toml:"ReadHeaderTimeout"`
	ShutdownTimeout   time.Duration        `toml:"ShutdownTimeout"`
	AllowedOrigins    []string             `toml:"AllowedOrigins"`
	LogRequests       bool                 `toml:"LogRequests"`
	IdempotencyPath   string               `toml:"IdempotencyPath"`
	IdempotencyTTL    time.Duration        `toml:"IdempotencyTTL"`
	Auth              Auth                 `toml:"auth"`
	RateLimits        map[string]RateLimit `toml:"rate_limits"`
}

// Logging selects the log level and optional rotating file.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Indexer persists committed blocks and events to SQL.
type Indexer struct {
	Enabled bool `toml:"Enabled"`
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Fees is the call fee policy.
type Fees = fees.Policy
