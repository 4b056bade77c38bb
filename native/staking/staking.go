package staking

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
)

var (
	// ErrNotStash is returned when an account is not a bonded stash.
	ErrNotStash = errors.New("staking: not a stash")
	// ErrNotController is returned when an account controls no ledger.
	ErrNotController = errors.New("staking: not a controller")
	// ErrAlreadyBonded is returned when a stash bonds twice.
	ErrAlreadyBonded = errors.New("staking: stash already bonded")
	// ErrAlreadyPaired is returned when a controller already controls a ledger.
	ErrAlreadyPaired = errors.New("staking: controller already paired")
	// ErrInsufficientBond is returned when a bond falls under the minimum or
	// exceeds the free balance.
	ErrInsufficientBond = errors.New("staking: insufficient bond")
	// ErrEmptyTargets is returned by Nominate without targets.
	ErrEmptyTargets = errors.New("staking: nomination targets required")
	// ErrTooManyTargets is returned when a nomination exceeds MaxNominations.
	ErrTooManyTargets = errors.New("staking: too many nomination targets")
	// ErrBadTarget is returned when a nomination names a non-validator.
	ErrBadTarget = errors.New("staking: target is not a validator")
)

// Storage abstracts the subset of state manager functionality required by the
// staking module.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Currency is the native balance ledger the module locks bonds against.
type Currency interface {
	Balance(asset types.AssetID, account types.AccountID) (*uint256.Int, error)
	SetLock(account types.AccountID, amount *uint256.Int) error
	RemoveLock(account types.AccountID) error
	Deposit(asset types.AssetID, account types.AccountID, amount *uint256.Int, reason string) error
}

// Params bound the staking module.
type Params struct {
	MinBond                          *uint256.Int
	MaxNominations                   uint32
	MaxNominatorRewardedPerValidator uint32
	// HistoryDepth is the number of eras whose snapshots are retained.
	HistoryDepth uint32
}

// DefaultParams mirrors the limits used on public networks.
func DefaultParams() Params {
	return Params{
		MinBond:                          uint256.NewInt(1),
		MaxNominations:                   16,
		MaxNominatorRewardedPerValidator: 64,
		HistoryDepth:                     84,
	}
}

// Module keeps bonds, validator intentions, nominations and the per-era
// snapshots the reward engine pays against.
type Module struct {
	store    Storage
	currency Currency
	params   Params
	emitter  events.Emitter
}

// NewModule constructs the staking module.
func NewModule(store Storage, currency Currency, params Params) *Module {
	if params.MinBond == nil {
		params.MinBond = new(uint256.Int)
	}
	if params.MaxNominations == 0 {
		params.MaxNominations = DefaultParams().MaxNominations
	}
	if params.MaxNominatorRewardedPerValidator == 0 {
		params.MaxNominatorRewardedPerValidator = DefaultParams().MaxNominatorRewardedPerValidator
	}
	return &Module{store: store, currency: currency, params: params, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event sink.
func (m *Module) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// Params returns the configured limits.
func (m *Module) Params() Params {
	return m.params
}

// Bonded returns the controller of stash.
func (m *Module) Bonded(stash types.AccountID) (types.AccountID, bool, error) {
	var controller types.AccountID
	ok, err := m.store.KVGet(bondedKey(stash), &controller)
	return controller, ok, err
}

// Ledger returns the ledger controlled by controller.
func (m *Module) Ledger(controller types.AccountID) (*StakingLedger, bool, error) {
	var stored storedLedger
	ok, err := m.store.KVGet(ledgerKey(controller), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	ledger, err := stored.toLedger()
	if err != nil {
		return nil, false, err
	}
	return ledger, true, nil
}

// LedgerOfStash resolves the controller and ledger of a stash. Missing links
// surface as ErrNotStash or ErrNotController.
func (m *Module) LedgerOfStash(stash types.AccountID) (types.AccountID, *StakingLedger, error) {
	controller, ok, err := m.Bonded(stash)
	if err != nil {
		return types.AccountID{}, nil, err
	}
	if !ok {
		return types.AccountID{}, nil, fmt.Errorf("%w: %s", ErrNotStash, stash)
	}
	ledger, ok, err := m.Ledger(controller)
	if err != nil {
		return types.AccountID{}, nil, err
	}
	if !ok {
		return types.AccountID{}, nil, fmt.Errorf("%w: %s", ErrNotController, controller)
	}
	return controller, ledger, nil
}

func (m *Module) requireLedger(controller types.AccountID) (*StakingLedger, error) {
	ledger, ok, err := m.Ledger(controller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotController, controller)
	}
	return ledger, nil
}

func (m *Module) writeLedger(controller types.AccountID, ledger *StakingLedger) error {
	if err := m.store.KVPut(ledgerKey(controller), ledger.toStored()); err != nil {
		return err
	}
	return m.currency.SetLock(ledger.Stash, ledger.Total)
}

// Payee returns the reward destination of stash, defaulting to Staked.
func (m *Module) Payee(stash types.AccountID) (RewardDestination, error) {
	var stored struct {
		Kind    uint8
		Account types.AccountID
	}
	ok, err := m.store.KVGet(payeeKey(stash), &stored)
	if err != nil {
		return RewardDestination{}, err
	}
	if !ok {
		return RewardDestination{Kind: DestinationStaked}, nil
	}
	return RewardDestination{Kind: DestinationKind(stored.Kind), Account: stored.Account}, nil
}

func (m *Module) writePayee(stash types.AccountID, dest RewardDestination) error {
	if dest.Kind > DestinationNone {
		return fmt.Errorf("staking: unknown reward destination %d", dest.Kind)
	}
	return m.store.KVPut(payeeKey(stash), struct {
		Kind    uint8
		Account types.AccountID
	}{Kind: uint8(dest.Kind), Account: dest.Account})
}

// Bond locks value of stash's native balance under controller.
func (m *Module) Bond(stash, controller types.AccountID, value *uint256.Int, payee RewardDestination) error {
	if _, ok, err := m.Bonded(stash); err != nil {
		return err
	} else if ok {
		return ErrAlreadyBonded
	}
	if _, ok, err := m.Ledger(controller); err != nil {
		return err
	} else if ok {
		return ErrAlreadyPaired
	}
	if value == nil || value.Lt(m.params.MinBond) || value.IsZero() {
		return fmt.Errorf("%w: below minimum %s", ErrInsufficientBond, m.params.MinBond.Dec())
	}
	balance, err := m.currency.Balance(types.NativeAsset, stash)
	if err != nil {
		return err
	}
	if balance.Lt(value) {
		return fmt.Errorf("%w: balance %s", ErrInsufficientBond, balance.Dec())
	}
	if err := m.store.KVPut(bondedKey(stash), controller); err != nil {
		return err
	}
	if err := m.writePayee(stash, payee); err != nil {
		return err
	}
	ledger := &StakingLedger{Stash: stash, Total: types.CopyBalance(value), Active: types.CopyBalance(value)}
	if err := m.writeLedger(controller, ledger); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeBonded{Stash: stash, Controller: controller, Amount: types.CopyBalance(value)})
	return nil
}

// BondExtra bonds up to maxAdditional more of the stash's free balance.
func (m *Module) BondExtra(stash types.AccountID, maxAdditional *uint256.Int) error {
	controller, ledger, err := m.LedgerOfStash(stash)
	if err != nil {
		return err
	}
	balance, err := m.currency.Balance(types.NativeAsset, stash)
	if err != nil {
		return err
	}
	extra := types.SaturatingSub(balance, ledger.Total)
	if maxAdditional != nil && maxAdditional.Lt(extra) {
		extra = types.CopyBalance(maxAdditional)
	}
	if extra.IsZero() {
		return nil
	}
	ledger.Total = new(uint256.Int).Add(ledger.Total, extra)
	ledger.Active = new(uint256.Int).Add(ledger.Active, extra)
	if err := m.writeLedger(controller, ledger); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeBonded{Stash: stash, Controller: controller, Amount: extra})
	return nil
}

// BondReward deposits amount into stash and bonds it in the same step.
func (m *Module) BondReward(stash types.AccountID, amount *uint256.Int) error {
	controller, ledger, err := m.LedgerOfStash(stash)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	total, overflow := new(uint256.Int).AddOverflow(ledger.Total, amount)
	if overflow {
		return fmt.Errorf("staking: bonded total overflow")
	}
	if err := m.currency.Deposit(types.NativeAsset, stash, amount, "reward"); err != nil {
		return err
	}
	ledger.Total = total
	ledger.Active = types.SaturatingAdd(ledger.Active, amount)
	if err := m.writeLedger(controller, ledger); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeRewardBonded{Stash: stash, Amount: types.CopyBalance(amount)})
	return nil
}

// Unbond releases value from the active bond. Releasing everything removes
// the bond entirely, along with any validator or nominator intention.
func (m *Module) Unbond(controller types.AccountID, value *uint256.Int) error {
	ledger, err := m.requireLedger(controller)
	if err != nil {
		return err
	}
	if value == nil || value.IsZero() {
		return nil
	}
	if ledger.Active.Lt(value) {
		value = types.CopyBalance(ledger.Active)
	}
	active := new(uint256.Int).Sub(ledger.Active, value)
	if !active.IsZero() && active.Lt(m.params.MinBond) {
		return fmt.Errorf("%w: remaining %s below minimum", ErrInsufficientBond, active.Dec())
	}
	if active.IsZero() {
		if err := m.chill(ledger.Stash); err != nil {
			return err
		}
		for _, key := range [][]byte{bondedKey(ledger.Stash), ledgerKey(controller), payeeKey(ledger.Stash)} {
			if err := m.store.KVDelete(key); err != nil {
				return err
			}
		}
		if err := m.currency.RemoveLock(ledger.Stash); err != nil {
			return err
		}
	} else {
		ledger.Active = active
		ledger.Total = types.SaturatingSub(ledger.Total, value)
		if err := m.writeLedger(controller, ledger); err != nil {
			return err
		}
	}
	m.emitter.Emit(events.StakeUnbonded{Stash: ledger.Stash, Amount: value})
	return nil
}

// Validate declares the stash behind controller as a validator candidate.
func (m *Module) Validate(controller types.AccountID, prefs ValidatorPrefs) error {
	ledger, err := m.requireLedger(controller)
	if err != nil {
		return err
	}
	if err := m.removeNominator(ledger.Stash); err != nil {
		return err
	}
	if err := m.store.KVPut(validatorKey(ledger.Stash), uint32(prefs.Commission)); err != nil {
		return err
	}
	if err := m.updateIndex(validatorIndexKey, ledger.Stash, true); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeValidate{Stash: ledger.Stash, Commission: prefs.Commission})
	return nil
}

// Nominate backs the given validators with the stash behind controller.
func (m *Module) Nominate(controller types.AccountID, targets []types.AccountID) error {
	ledger, err := m.requireLedger(controller)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return ErrEmptyTargets
	}
	unique := make([]types.AccountID, 0, len(targets))
	seen := make(map[types.AccountID]struct{}, len(targets))
	for _, target := range targets {
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		if _, ok, err := m.ValidatorPrefs(target); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", ErrBadTarget, target)
		}
		unique = append(unique, target)
	}
	if uint32(len(unique)) > m.params.MaxNominations {
		return fmt.Errorf("%w: %d > %d", ErrTooManyTargets, len(unique), m.params.MaxNominations)
	}
	if err := m.removeValidator(ledger.Stash); err != nil {
		return err
	}
	if err := m.store.KVPut(nominatorKey(ledger.Stash), unique); err != nil {
		return err
	}
	if err := m.updateIndex(nominatorIndexKey, ledger.Stash, true); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeNominated{Stash: ledger.Stash, Targets: unique})
	return nil
}

// Chill withdraws any validator or nominator intention.
func (m *Module) Chill(controller types.AccountID) error {
	ledger, err := m.requireLedger(controller)
	if err != nil {
		return err
	}
	if err := m.chill(ledger.Stash); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeChilled{Stash: ledger.Stash})
	return nil
}

func (m *Module) chill(stash types.AccountID) error {
	if err := m.removeValidator(stash); err != nil {
		return err
	}
	return m.removeNominator(stash)
}

// SetPayee changes the reward destination of the stash behind controller.
func (m *Module) SetPayee(controller types.AccountID, dest RewardDestination) error {
	ledger, err := m.requireLedger(controller)
	if err != nil {
		return err
	}
	if err := m.writePayee(ledger.Stash, dest); err != nil {
		return err
	}
	m.emitter.Emit(events.StakePayeeSet{Stash: ledger.Stash, Destination: dest.String()})
	return nil
}

// ValidatorPrefs returns the current intention of a validator candidate.
func (m *Module) ValidatorPrefs(stash types.AccountID) (ValidatorPrefs, bool, error) {
	var parts uint32
	ok, err := m.store.KVGet(validatorKey(stash), &parts)
	if err != nil || !ok {
		return ValidatorPrefs{}, ok, err
	}
	return ValidatorPrefs{Commission: types.PerbillFromParts(parts)}, true, nil
}

// Nominations returns the targets of a nominator.
func (m *Module) Nominations(stash types.AccountID) ([]types.AccountID, error) {
	var targets []types.AccountID
	if err := m.store.KVGetList(nominatorKey(stash), &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// Validators lists validator candidates in byte order.
func (m *Module) Validators() ([]types.AccountID, error) {
	return m.loadIndex(validatorIndexKey)
}

// NominatorStashes lists nominators in byte order.
func (m *Module) NominatorStashes() ([]types.AccountID, error) {
	return m.loadIndex(nominatorIndexKey)
}

func (m *Module) removeValidator(stash types.AccountID) error {
	if err := m.store.KVDelete(validatorKey(stash)); err != nil {
		return err
	}
	return m.updateIndex(validatorIndexKey, stash, false)
}

func (m *Module) removeNominator(stash types.AccountID) error {
	if err := m.store.KVDelete(nominatorKey(stash)); err != nil {
		return err
	}
	return m.updateIndex(nominatorIndexKey, stash, false)
}

func (m *Module) loadIndex(key []byte) ([]types.AccountID, error) {
	var list []types.AccountID
	if err := m.store.KVGetList(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Module) updateIndex(key []byte, account types.AccountID, present bool) error {
	list, err := m.loadIndex(key)
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool { return !list[i].Less(account) })
	found := idx < len(list) && list[idx] == account
	switch {
	case present && !found:
		list = append(list, types.AccountID{})
		copy(list[idx+1:], list[idx:])
		list[idx] = account
	case !present && found:
		list = append(list[:idx], list[idx+1:]...)
	default:
		return nil
	}
	if len(list) == 0 {
		return m.store.KVDelete(key)
	}
	return m.store.KVPut(key, list)
}

// TotalBonded sums the active bond of every validator and nominator.
func (m *Module) TotalBonded() (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, key := range [][]byte{validatorIndexKey, nominatorIndexKey} {
		stashes, err := m.loadIndex(key)
		if err != nil {
			return nil, err
		}
		for _, stash := range stashes {
			_, ledger, err := m.LedgerOfStash(stash)
			if err != nil {
				return nil, err
			}
			total = types.SaturatingAdd(total, ledger.Active)
		}
	}
	return total, nil
}

func loadBig(store Storage, key []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := store.KVGet(key, stored)
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return types.BalanceFromBig(stored)
}
