package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/genesis"
	"stakechain/core/state"
	"stakechain/core/types"
	"stakechain/native/bank"
	"stakechain/native/dex"
	"stakechain/native/fees"
	"stakechain/native/inflation"
	"stakechain/native/payout"
	"stakechain/native/staking"
	"stakechain/observability"
	"stakechain/storage"
)

// TaskYearlyDecay is the scheduler id of the inflation decay.
const TaskYearlyDecay = "inflation.yearly-decay"

var (
	treasuryKey = []byte("runtime/treasury")

	ErrNotInitialized     = errors.New("runtime: genesis not applied")
	ErrAlreadyInitialized = errors.New("runtime: genesis already applied")
	ErrBlockOutOfOrder    = errors.New("runtime: block does not extend head")
	ErrTimeWentBackwards  = errors.New("runtime: block timestamp before parent")
)

// Block is the input to ExecuteBlock.
type Block struct {
	Number     types.BlockNumber
	Timestamp  uint64 // unix milliseconds
	Author     types.AccountID
	Extrinsics []Extrinsic
}

// Receipt is the outcome of one extrinsic. A failed call still pays its fee.
type Receipt struct {
	Index  int          `json:"index"`
	Call   string       `json:"call"`
	Origin string       `json:"origin"`
	Fee    *uint256.Int `json:"fee"`
	Error  string       `json:"error,omitempty"`
}

// Success reports whether the call was applied.
func (r Receipt) Success() bool { return r.Error == "" }

// BlockResult describes a committed block. Session is set when the block
// closed a session and NewEra when it started an era.
type BlockResult struct {
	Number      types.BlockNumber
	Hash        [32]byte
	StateDigest [32]byte
	Header      types.BlockHeader
	Receipts    []Receipt
	Events      []*types.Event
	Session     *payout.SessionReport
	NewEra      *types.EraIndex
	Expired     int
}

// BlockListener observes committed blocks, e.g. the event indexer or the
// websocket feed. Listeners run synchronously under the runtime lock and
// must not call back into the runtime.
type BlockListener interface {
	OnBlock(result *BlockResult)
}

// Runtime is the state container: it owns the state manager and every native
// module, and serialises all access to them.
type Runtime struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	state     *state.Manager
	chain     *Blockchain
	recorder  *events.Recorder
	listeners []BlockListener

	treasury   types.AccountID
	bank       *bank.Ledger
	staking    *staking.Module
	schedule   *inflation.Schedule
	payout     *payout.Engine
	dex        *dex.Book
	fees       *fees.Charger
	scheduler  *Scheduler
	dispatcher *Dispatcher
}

// New opens the runtime over db. Genesis must be applied before the first
// block on a fresh database.
func New(db storage.Database, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mgr, err := state.NewManager(db)
	if err != nil {
		return nil, err
	}
	if err := mgr.EnsureStateVersion(); err != nil {
		return nil, err
	}
	chain, err := NewBlockchain(db)
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		state:    mgr,
		chain:    chain,
		recorder: &events.Recorder{},
	}
	treasury := types.ModuleAccount("treasury")
	if _, err := mgr.KVGet(treasuryKey, &treasury); err != nil {
		return nil, err
	}
	r.wire(treasury)
	return r, nil
}

func (r *Runtime) wire(treasury types.AccountID) {
	r.treasury = treasury
	r.bank = bank.NewLedger(r.state)
	r.bank.SetEmitter(r.recorder)

	r.staking = staking.NewModule(r.state, r.bank, r.cfg.Staking)
	r.staking.SetEmitter(r.recorder)

	r.schedule = inflation.NewSchedule(r.state, r.cfg.YearBlocks)
	r.schedule.SetEmitter(r.recorder)

	r.payout = payout.NewEngine(r.state, r.staking, r.bank, bank.Treasury{Ledger: r.bank, Account: treasury}, r.schedule,
		payout.Config{Commission: r.cfg.Commission, Logger: r.logger})
	r.payout.SetEmitter(r.recorder)

	r.dex = dex.NewBook(r.state, r.bank, r.logger)
	r.dex.SetEmitter(r.recorder)

	r.fees = fees.NewCharger(r.cfg.Fees, r.bank, r.schedule, treasury)
	r.fees.SetEmitter(r.recorder)

	r.scheduler = NewScheduler(r.state, r.logger)
	r.scheduler.Handle(TaskYearlyDecay, r.schedule.ApplyYearlyDecay)

	r.dispatcher = &Dispatcher{Bank: r.bank, Staking: r.staking, Dex: r.dex, Schedule: r.schedule}
}

// AddListener registers a block listener.
func (r *Runtime) AddListener(listener BlockListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Config returns the runtime configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// InitGenesis applies spec as block zero: balances, listed dex assets,
// stakers, inflation parameters, era zero, the session bootstrap and the
// yearly decay task.
func (r *Runtime) InitGenesis(spec *genesis.GenesisSpec) (*BlockResult, error) {
	if spec == nil {
		return nil, fmt.Errorf("runtime: genesis spec must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chain.Head() != nil {
		return nil, ErrAlreadyInitialized
	}
	if treasury := spec.TreasuryAccount(); treasury != r.treasury && !treasury.IsZero() {
		r.wire(treasury)
	}
	genesisMillis := uint64(spec.GenesisTimestamp().UnixMilli())

	err := r.state.Transact(func() error {
		if err := r.state.SetStateVersion(state.StateVersion); err != nil {
			return err
		}
		if err := r.state.KVPut(treasuryKey, r.treasury); err != nil {
			return err
		}
		if err := r.schedule.Genesis(spec.InflationParams()); err != nil {
			return fmt.Errorf("genesis inflation: %w", err)
		}
		for _, alloc := range spec.Allocations() {
			if err := r.bank.Issue(alloc.Asset, alloc.Account, alloc.Amount); err != nil {
				return fmt.Errorf("genesis balance %s/%d: %w", alloc.Account, alloc.Asset, err)
			}
		}
		for _, asset := range spec.DexAssets {
			if err := r.dex.ListToken(types.AssetID(asset)); err != nil {
				return fmt.Errorf("genesis dex asset %d: %w", asset, err)
			}
		}
		for _, st := range spec.StakerEntries() {
			if err := r.staking.Bond(st.Stash, st.Controller, st.Bond, st.Payee); err != nil {
				return fmt.Errorf("genesis bond %s: %w", st.Stash, err)
			}
			switch st.Role {
			case genesis.RoleValidator:
				err := r.staking.Validate(st.Controller, staking.ValidatorPrefs{Commission: st.Commission})
				if err != nil {
					return fmt.Errorf("genesis validate %s: %w", st.Stash, err)
				}
			case genesis.RoleNominator:
				if err := r.staking.Nominate(st.Controller, st.Targets); err != nil {
					return fmt.Errorf("genesis nominate %s: %w", st.Stash, err)
				}
			}
		}
		if err := r.staking.NewEra(0); err != nil {
			return err
		}
		if _, err := r.payout.EndSession(0, 0, nil, nil, genesisMillis); err != nil {
			return err
		}
		if r.cfg.DecayYears > 0 {
			return r.scheduler.Schedule(Task{
				ID:        TaskYearlyDecay,
				Next:      r.cfg.YearBlocks,
				Interval:  r.cfg.YearBlocks,
				Remaining: r.cfg.DecayYears,
			})
		}
		return nil
	})
	if err != nil {
		r.abort()
		return nil, err
	}
	header := types.BlockHeader{Number: 0, Timestamp: genesisMillis}
	result, err := r.commit(header, nil)
	if err != nil {
		return nil, err
	}
	r.notify(result)
	r.logger.Info("genesis applied",
		slog.String("treasury", r.treasury.String()),
		slog.Int("balances", len(spec.Allocations())),
		slog.Int("stakers", len(spec.StakerEntries())),
		slog.String("stateDigest", fmt.Sprintf("%x", result.StateDigest)))
	return result, nil
}

// ExecuteBlock runs the block initialisation hooks, applies every extrinsic
// in its own transaction, awards the author, closes the session (and era)
// when due and commits. On error nothing is committed.
func (r *Runtime) ExecuteBlock(ctx context.Context, block Block) (*BlockResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	head := r.chain.Head()
	if head == nil {
		return nil, ErrNotInitialized
	}
	if block.Number != head.Number+1 {
		return nil, fmt.Errorf("%w: head %d, block %d", ErrBlockOutOfOrder, head.Number, block.Number)
	}
	if block.Timestamp < head.Timestamp {
		return nil, fmt.Errorf("%w: parent %d, block %d", ErrTimeWentBackwards, head.Timestamp, block.Timestamp)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := r.execute(ctx, head, block)
	if err != nil {
		r.abort()
		return nil, err
	}
	observability.Runtime().ObserveBlock(block.Number, time.Since(started))
	return result, nil
}

func (r *Runtime) abort() {
	r.state.Discard()
	r.recorder.Drain()
}

func (r *Runtime) execute(ctx context.Context, head *types.BlockHeader, block Block) (*BlockResult, error) {
	ran, err := r.scheduler.Run(block.Number)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	for _, id := range ran {
		r.logger.Info("scheduled task ran", slog.String("task", id), slog.Uint64("block", block.Number))
	}
	expired := r.dex.OnInitialize(block.Number)

	receipts := make([]Receipt, 0, len(block.Extrinsics))
	for i, ext := range block.Extrinsics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		receipts = append(receipts, r.apply(i, ext, block))
	}

	era, _, err := r.staking.CurrentEra()
	if err != nil {
		return nil, err
	}
	if err := r.rewardAuthor(era, block.Author); err != nil {
		return nil, err
	}

	var report *payout.SessionReport
	var newEra *types.EraIndex
	if block.Number%r.cfg.SessionLength == 0 {
		session := types.SessionIndex(block.Number / r.cfg.SessionLength)
		if report, err = r.endSession(session, era, block.Timestamp); err != nil {
			return nil, err
		}
		if uint64(session)%uint64(r.cfg.SessionsPerEra) == 0 {
			next := era + 1
			if err := r.staking.NewEra(next); err != nil {
				return nil, fmt.Errorf("start era %d: %w", next, err)
			}
			newEra = &next
			r.logger.Info("era started", slog.Uint64("era", uint64(next)), slog.Uint64("block", block.Number))
		}
	}

	parent, err := head.Hash()
	if err != nil {
		return nil, err
	}
	header := types.BlockHeader{
		Number:     block.Number,
		Timestamp:  block.Timestamp,
		Author:     block.Author,
		ParentHash: parent,
		CallCount:  uint64(len(block.Extrinsics)),
	}
	result, err := r.commit(header, receipts)
	if err != nil {
		return nil, err
	}
	result.Session = report
	result.NewEra = newEra
	result.Expired = expired
	r.notify(result)
	return result, nil
}

// apply charges the fee and dispatches one extrinsic. The fee survives a
// failed call; events of a rolled back step are retracted.
func (r *Runtime) apply(index int, ext Extrinsic, block Block) Receipt {
	receipt := Receipt{Index: index, Call: ext.Call.Name, Origin: ext.Origin.String(), Fee: new(uint256.Int)}
	mark := r.recorder.Mark()
	if !ext.Origin.Root {
		err := r.state.Transact(func() error {
			charged, err := r.fees.Charge(ext.Origin.Account, block.Author, ext.Call.Name)
			if err == nil {
				receipt.Fee = charged.Fee
			}
			return err
		})
		if err != nil {
			r.recorder.Truncate(mark)
			receipt.Error = err.Error()
			observability.Runtime().RecordCall(ext.Call.Name, err)
			return receipt
		}
		mark = r.recorder.Mark()
	}
	err := r.state.Transact(func() error {
		return r.dispatcher.Dispatch(ext.Origin, ext.Call, block.Number)
	})
	if err != nil {
		r.recorder.Truncate(mark)
		receipt.Error = err.Error()
		r.logger.Debug("call failed",
			slog.String("call", ext.Call.Name),
			slog.String("origin", receipt.Origin),
			slog.Uint64("block", block.Number),
			slog.Any("error", err))
	}
	observability.Runtime().RecordCall(ext.Call.Name, err)
	return receipt
}

func (r *Runtime) rewardAuthor(era types.EraIndex, author types.AccountID) error {
	if r.cfg.AuthoringPoints == 0 || author.IsZero() {
		return nil
	}
	validators, err := r.staking.EraValidators(era)
	if err != nil {
		return err
	}
	for _, v := range validators {
		if v == author {
			return r.staking.RewardByIDs(era, map[types.AccountID]uint32{author: r.cfg.AuthoringPoints})
		}
	}
	r.logger.Debug("block author is not an era validator", slog.String("author", author.String()), slog.Uint64("era", uint64(era)))
	return nil
}

func (r *Runtime) endSession(session types.SessionIndex, era types.EraIndex, now uint64) (*payout.SessionReport, error) {
	staked, err := r.staking.ErasTotalStake(era)
	if err != nil {
		return nil, err
	}
	issuance, err := r.bank.TotalIssuance(types.NativeAsset)
	if err != nil {
		return nil, err
	}
	report, err := r.payout.EndSession(session, era, staked, issuance, now)
	if err != nil {
		return nil, fmt.Errorf("end session %d: %w", session, err)
	}
	r.logger.Info("session closed",
		slog.Uint64("session", uint64(session)),
		slog.Uint64("era", uint64(era)),
		slog.String("inflation", report.TotalInflation.Dec()),
		slog.String("validatorPayout", report.ValidatorPayout.Dec()),
		slog.String("paid", report.Paid.Dec()),
		slog.String("treasury", report.Treasury().Dec()),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}

func (r *Runtime) commit(header types.BlockHeader, receipts []Receipt) (*BlockResult, error) {
	receiptsRoot, err := ReceiptsRoot(receipts)
	if err != nil {
		r.abort()
		return nil, err
	}
	header.ReceiptsRoot = receiptsRoot
	// State, header and head go out in one write.
	digest, err := r.state.CommitWith(func(digest [32]byte, batch *storage.Batch) error {
		header.StateDigest = digest
		return r.chain.StageHeader(&header, batch)
	})
	if err != nil {
		r.abort()
		return nil, err
	}
	r.chain.SetHead(&header)
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	emitted := r.recorder.Drain()
	out := make([]*types.Event, 0, len(emitted))
	metrics := observability.Events()
	for _, evt := range emitted {
		if payload := evt.Event(); payload != nil {
			out = append(out, payload)
			metrics.RecordEvent(payload.Type)
		}
	}
	result := &BlockResult{
		Number:      header.Number,
		Hash:        hash,
		StateDigest: digest,
		Header:      header,
		Receipts:    receipts,
		Events:      out,
	}
	return result, nil
}

func (r *Runtime) notify(result *BlockResult) {
	for _, listener := range r.listeners {
		listener.OnBlock(result)
	}
}
