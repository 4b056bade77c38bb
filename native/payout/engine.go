package payout

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
	"stakechain/native/bank"
	"stakechain/native/staking"
	"stakechain/observability"
)

var (
	sessionStartKey  = []byte("payout/session-start")
	lastEraKey       = []byte("payout/last-era")
	lastEraPointsKey = []byte("payout/last-era-points")

	// ErrPointsInconsistent is returned when a point set's cached total does
	// not match the sum of its entries.
	ErrPointsInconsistent = errors.New("payout: reward points total mismatch")
)

// Storage abstracts the subset of state manager functionality required by the
// engine. Transact scopes each validator payout so a failed one leaves no
// partial writes behind.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Transact(fn func() error) error
}

// Staking is the staking ledger the engine pays against.
type Staking interface {
	PrefsSource
	ErasRewardPoints(era types.EraIndex) (staking.RewardPoints, error)
	ErasStakers(era types.EraIndex, stash types.AccountID) (staking.Exposure, bool, error)
	LedgerOfStash(stash types.AccountID) (types.AccountID, *staking.StakingLedger, error)
	Payee(stash types.AccountID) (staking.RewardDestination, error)
	BondReward(stash types.AccountID, amount *uint256.Int) error
}

// Currency mints rewards into accounts.
type Currency interface {
	Deposit(asset types.AssetID, account types.AccountID, amount *uint256.Int, reason string) error
}

// Rates supplies the inflation parameters.
type Rates interface {
	InflationPercent() (types.Perbill, error)
	TreasuryCommission() (types.Perbill, error)
}

// ValidatorFailure records a validator whose payout was skipped.
type ValidatorFailure struct {
	Stash types.AccountID
	Err   error
}

// SessionReport summarises one EndSession call.
type SessionReport struct {
	Session   types.SessionIndex
	Era       types.EraIndex
	Bootstrap bool
	// Duration is the session length in milliseconds.
	Duration        uint64
	TotalInflation  *uint256.Int
	ValidatorPayout *uint256.Int
	Remainder       *uint256.Int
	Paid            *uint256.Int
	// Unpaid is the part of the validator pool that reached nobody; it is
	// minted to the treasury along with Remainder.
	Unpaid *uint256.Int
	Failed []ValidatorFailure
}

// Treasury is the total the treasury received.
func (r *SessionReport) Treasury() *uint256.Int {
	return types.SaturatingAdd(r.Remainder, r.Unpaid)
}

// Config wires the optional parts of the engine.
type Config struct {
	Commission CommissionAlgorithm
	Logger     *slog.Logger
}

// Engine computes the inflation of each session and distributes the
// validator share by reward points, then by stake exposure.
type Engine struct {
	store      Storage
	staking    Staking
	currency   Currency
	treasury   bank.OnUnbalanced
	rates      Rates
	commission CommissionAlgorithm
	emitter    events.Emitter
	logger     *slog.Logger
}

// NewEngine constructs the engine.
func NewEngine(store Storage, stakingLedger Staking, currency Currency, treasury bank.OnUnbalanced, rates Rates, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		staking:    stakingLedger,
		currency:   currency,
		treasury:   treasury,
		rates:      rates,
		commission: cfg.Commission,
		emitter:    events.NoopEmitter{},
		logger:     logger,
	}
}

// SetEmitter configures the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Commission returns the configured commission policy.
func (e *Engine) Commission() CommissionAlgorithm {
	return e.commission
}

// SessionStart returns the timestamp (unix millis) the current session began.
func (e *Engine) SessionStart() (uint64, bool, error) {
	var start uint64
	ok, err := e.store.KVGet(sessionStartKey, &start)
	return start, ok, err
}

// EndSession closes session at now (unix millis). Session zero only records
// the start time. Every later session mints its inflation: the validator pool
// is paid out and the remainder, plus whatever of the pool could not be paid,
// goes to the treasury.
func (e *Engine) EndSession(session types.SessionIndex, era types.EraIndex, totalStaked, totalIssuance *uint256.Int, now uint64) (*SessionReport, error) {
	report := &SessionReport{
		Session:         session,
		Era:             era,
		TotalInflation:  new(uint256.Int),
		ValidatorPayout: new(uint256.Int),
		Remainder:       new(uint256.Int),
		Paid:            new(uint256.Int),
		Unpaid:          new(uint256.Int),
	}
	if session == 0 {
		report.Bootstrap = true
		return report, e.store.KVPut(sessionStartKey, now)
	}

	start, ok, err := e.SessionStart()
	if err != nil {
		return nil, err
	}
	if !ok {
		e.logger.Warn("payout: session start missing, treating session as empty",
			slog.Uint64("session", uint64(session)))
		start = now
	}
	if now > start {
		report.Duration = now - start
	}

	rate, err := e.rates.InflationPercent()
	if err != nil {
		return nil, err
	}
	commission, err := e.rates.TreasuryCommission()
	if err != nil {
		return nil, err
	}
	split := SplitReward(totalStaked, totalIssuance, report.Duration, rate, commission)
	report.TotalInflation = split.TotalInflation
	report.ValidatorPayout = split.ValidatorPayout
	report.Remainder = split.Remainder

	paid, failed, err := e.makeValidatorsPayout(split.ValidatorPayout, era, session)
	if err != nil {
		return nil, err
	}
	report.Paid = paid
	report.Failed = failed
	report.Unpaid = types.SaturatingSub(split.ValidatorPayout, paid)

	if treasury := report.Treasury(); !treasury.IsZero() {
		if err := e.treasury.OnUnbalanced(treasury); err != nil {
			return nil, fmt.Errorf("payout: mint treasury share: %w", err)
		}
	}
	if err := e.store.KVPut(sessionStartKey, now); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.SessionPayout{
		Session:         session,
		Era:             era,
		ValidatorPayout: types.CopyBalance(report.ValidatorPayout),
		Remainder:       types.CopyBalance(report.Remainder),
		Paid:            types.CopyBalance(report.Paid),
	})
	metrics := observability.Payout()
	metrics.RecordSession(report.ValidatorPayout, report.Paid, report.Treasury())
	metrics.SetInflationRate(rate.Parts())
	return report, nil
}

// TotalSessionPoints returns the points earned since the previous call. On an
// era change the whole era's points count; otherwise the previous snapshot is
// subtracted entry by entry. The cumulative snapshot is stored for next time.
func (e *Engine) TotalSessionPoints(era types.EraIndex) (staking.RewardPoints, error) {
	current, err := e.staking.ErasRewardPoints(era)
	if err != nil {
		return staking.RewardPoints{}, err
	}
	if !current.Consistent() {
		return staking.RewardPoints{}, fmt.Errorf("%w: era %d total %d sum %d", ErrPointsInconsistent, era, current.Total, current.Sum())
	}

	var lastEra uint64
	hasLast, err := e.store.KVGet(lastEraKey, &lastEra)
	if err != nil {
		return staking.RewardPoints{}, err
	}

	var session staking.RewardPoints
	if !hasLast || types.EraIndex(lastEra) != era {
		session = current.Clone()
	} else {
		var stored staking.StoredRewardPoints
		if _, err := e.store.KVGet(lastEraPointsKey, &stored); err != nil {
			return staking.RewardPoints{}, err
		}
		previous := stored.FromStored()
		session = staking.NewRewardPoints()
		for _, who := range current.Accounts() {
			now, before := current.Individual[who], previous.Individual[who]
			if now > before {
				session.Add(who, now-before)
			}
		}
	}
	if !session.Consistent() {
		return staking.RewardPoints{}, fmt.Errorf("%w: session delta of era %d", ErrPointsInconsistent, era)
	}

	if err := e.store.KVPut(lastEraKey, uint64(era)); err != nil {
		return staking.RewardPoints{}, err
	}
	if err := e.store.KVPut(lastEraPointsKey, current.ToStored()); err != nil {
		return staking.RewardPoints{}, err
	}
	return session, nil
}

// LastEraPoints returns the snapshot TotalSessionPoints last stored.
func (e *Engine) LastEraPoints() (types.EraIndex, staking.RewardPoints, bool, error) {
	var lastEra uint64
	ok, err := e.store.KVGet(lastEraKey, &lastEra)
	if err != nil || !ok {
		return 0, staking.NewRewardPoints(), ok, err
	}
	var stored staking.StoredRewardPoints
	if _, err := e.store.KVGet(lastEraPointsKey, &stored); err != nil {
		return 0, staking.RewardPoints{}, false, err
	}
	return types.EraIndex(lastEra), stored.FromStored(), true, nil
}

func (e *Engine) makeValidatorsPayout(pool *uint256.Int, era types.EraIndex, session types.SessionIndex) (*uint256.Int, []ValidatorFailure, error) {
	points, err := e.TotalSessionPoints(era)
	if err != nil {
		return nil, nil, err
	}
	paid := new(uint256.Int)
	if points.Total == 0 || pool.IsZero() {
		return paid, nil, nil
	}
	commission, err := e.commission.Compute(era, e.staking)
	if err != nil {
		return nil, nil, err
	}

	budget := types.CopyBalance(pool)
	var failed []ValidatorFailure
	for _, stash := range points.Accounts() {
		var amount *uint256.Int
		err := e.store.Transact(func() error {
			var payErr error
			amount, payErr = e.doValidatorPayout(budget, pool, stash, points, era, commission, session)
			return payErr
		})
		if err != nil {
			e.logger.Warn("payout: skipping validator",
				slog.String("stash", stash.String()),
				slog.Uint64("era", uint64(era)),
				slog.Uint64("session", uint64(session)),
				slog.Any("error", err))
			observability.Payout().RecordFailure(failureReason(err))
			failed = append(failed, ValidatorFailure{Stash: stash, Err: err})
			continue
		}
		paid = types.SaturatingAdd(paid, amount)
	}
	return paid, failed, nil
}

// doValidatorPayout pays stash its share of sessionPayout and returns what
// was actually deposited. budget is what is left of the pool; no payout
// exceeds it.
func (e *Engine) doValidatorPayout(budget, sessionPayout *uint256.Int, stash types.AccountID, points staking.RewardPoints, era types.EraIndex, commission types.Perbill, session types.SessionIndex) (*uint256.Int, error) {
	earned := points.Individual[stash]
	if earned == 0 {
		return new(uint256.Int), nil
	}
	controller, _, err := e.staking.LedgerOfStash(stash)
	if err != nil {
		return nil, err
	}

	share := types.PerbillFromRational(uint64(earned), uint64(points.Total))
	gross := minBalance(share.MulBalance(sessionPayout), budget)
	commissionAmount := commission.MulBalance(gross)
	leftover := types.SaturatingSub(gross, commissionAmount)

	exposure, _, err := e.staking.ErasStakers(era, stash)
	if err != nil {
		return nil, err
	}
	ownShare := types.PerbillFromRationalBalance(exposure.Own, exposure.Total)
	ownPart := ownShare.MulBalance(leftover)
	validatorReward := types.SaturatingAdd(commissionAmount, ownPart)
	nominatorBudget := types.SaturatingSub(leftover, ownPart)

	paid := new(uint256.Int)
	amount, err := e.reward(stash, controller, validatorReward, session)
	if err != nil {
		return nil, err
	}
	paid.Add(paid, amount)

	for _, backer := range exposure.Others {
		part := types.PerbillFromRationalBalance(backer.Value, exposure.Total).MulBalance(leftover)
		part = minBalance(part, nominatorBudget)
		if part.IsZero() {
			continue
		}
		nominatorBudget.Sub(nominatorBudget, part)
		amount, err := e.payNominator(backer.Who, part, session)
		if err != nil {
			e.logger.Debug("payout: nominator reward not paid",
				slog.String("validator", stash.String()),
				slog.String("nominator", backer.Who.String()),
				slog.Any("error", err))
			continue
		}
		paid.Add(paid, amount)
	}
	budget.Set(types.SaturatingSub(budget, gross))
	return paid, nil
}

func (e *Engine) payNominator(stash types.AccountID, amount *uint256.Int, session types.SessionIndex) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.store.Transact(func() error {
		controller, _, err := e.staking.LedgerOfStash(stash)
		if err != nil {
			return err
		}
		paid, err = e.reward(stash, controller, amount, session)
		return err
	})
	return paid, err
}

// reward deposits amount according to the payee policy of stash and returns
// the amount that counts as paid. DestinationNone pays nothing.
func (e *Engine) reward(stash, controller types.AccountID, amount *uint256.Int, session types.SessionIndex) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return new(uint256.Int), nil
	}
	dest, err := e.staking.Payee(stash)
	if err != nil {
		return nil, err
	}
	var to types.AccountID
	switch dest.Kind {
	case staking.DestinationNone:
		return new(uint256.Int), nil
	case staking.DestinationStaked:
		if err := e.staking.BondReward(stash, amount); err != nil {
			return nil, err
		}
		to = stash
	case staking.DestinationStash:
		to = stash
	case staking.DestinationController:
		to = controller
	case staking.DestinationAccount:
		to = dest.Account
	default:
		return nil, fmt.Errorf("payout: unknown reward destination %d", dest.Kind)
	}
	if dest.Kind != staking.DestinationStaked {
		if err := e.currency.Deposit(types.NativeAsset, to, amount, bank.ReasonReward); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.Rewarded{Stash: stash, Destination: to, Amount: types.CopyBalance(amount), Session: session})
	return types.CopyBalance(amount), nil
}

func minBalance(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return types.CopyBalance(a)
	}
	return types.CopyBalance(b)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, staking.ErrNotStash):
		return "not_stash"
	case errors.Is(err, staking.ErrNotController):
		return "not_controller"
	default:
		return "error"
	}
}
