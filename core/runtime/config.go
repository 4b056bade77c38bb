package runtime

import (
	"fmt"
	"log/slog"

	"stakechain/native/fees"
	"stakechain/native/payout"
	"stakechain/native/staking"
)

// Config controls block cadence and module parameters. Lengths are in
// blocks.
type Config struct {
	SessionLength   uint64
	SessionsPerEra  uint32
	YearBlocks      uint64
	DecayYears      uint32
	AuthoringPoints uint32
	Commission      payout.CommissionAlgorithm
	Fees            fees.Policy
	Staking         staking.Params
	Logger          *slog.Logger
}

// DefaultConfig assumes six second blocks: hourly sessions, six hour eras and
// a 365.25 day year.
func DefaultConfig() Config {
	return Config{
		SessionLength:   600,
		SessionsPerEra:  6,
		YearBlocks:      5_259_600,
		DecayYears:      30,
		AuthoringPoints: 20,
		Commission:      payout.Median(),
		Fees:            fees.Policy{Default: fees.NewAmount(1)},
		Staking:         staking.DefaultParams(),
	}
}

// Validate rejects configurations the runtime cannot execute.
func (c Config) Validate() error {
	if c.SessionLength == 0 {
		return fmt.Errorf("runtime: session length must be positive")
	}
	if c.SessionsPerEra == 0 {
		return fmt.Errorf("runtime: sessions per era must be positive")
	}
	if c.YearBlocks == 0 {
		return fmt.Errorf("runtime: year length must be positive")
	}
	if c.Staking.HistoryDepth == 0 {
		return fmt.Errorf("runtime: staking history depth must be positive")
	}
	return nil
}
