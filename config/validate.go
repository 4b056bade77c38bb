package config

import (
	"fmt"
	"strings"

	"stakechain/native/payout"
)

// MaxRootReservationBPS is the whole block.
const MaxRootReservationBPS = 10_000

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if c.Chain.BlockTime <= 0 {
		return fmt.Errorf("chain: BlockTime must be positive")
	}
	if c.Chain.SessionLength == 0 {
		return fmt.Errorf("chain: SessionLength must be positive")
	}
	if c.Chain.SessionsPerEra == 0 {
		return fmt.Errorf("chain: SessionsPerEra must be positive")
	}
	if c.Chain.YearBlocks < c.Chain.SessionLength {
		return fmt.Errorf("chain: YearBlocks (%d) shorter than a session (%d)", c.Chain.YearBlocks, c.Chain.SessionLength)
	}
	if c.Chain.MaxCallsPerBlock <= 0 {
		return fmt.Errorf("chain: MaxCallsPerBlock must be positive")
	}
	if c.Chain.HistoryDepth == 0 {
		return fmt.Errorf("chain: HistoryDepth must be positive")
	}
	if _, err := payout.ParseCommissionAlgorithm(c.Chain.Commission); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if c.Mempool.Capacity <= 0 {
		return fmt.Errorf("mempool: Capacity must be positive")
	}
	if c.Mempool.RootReservationBPS > MaxRootReservationBPS {
		return fmt.Errorf("mempool: RootReservationBPS %d exceeds %d", c.Mempool.RootReservationBPS, MaxRootReservationBPS)
	}
	if strings.TrimSpace(c.Gateway.ListenAddress) == "" {
		return fmt.Errorf("gateway: ListenAddress must be set")
	}
	if c.Gateway.Auth.Enabled && strings.TrimSpace(c.Gateway.Auth.HMACSecret) == "" {
		return fmt.Errorf("gateway.auth: HMACSecret (or the variable named by HMACSecretEnv) required when auth is enabled")
	}
	for key, limit := range c.Gateway.RateLimits {
		if limit.RequestsPerMinute <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("gateway.rate_limits.%s: RequestsPerMinute and Burst must be positive", key)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if c.Indexer.Enabled {
		switch c.Indexer.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("indexer: unsupported Driver %q", c.Indexer.Driver)
		}
		if c.Indexer.Driver == "postgres" && strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: DSN required for postgres")
		}
	}
	return nil
}
