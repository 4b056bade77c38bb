package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
)

var (
	// ErrInsufficientBalance is returned when the usable balance cannot cover
	// a debit.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrBalanceOverflow is returned when a credit would overflow a balance or
	// the total issuance.
	ErrBalanceOverflow = errors.New("bank: balance overflow")
)

// Mint and burn reasons recorded on events.
const (
	ReasonGenesis   = "genesis"
	ReasonTreasury  = "treasury"
	ReasonReward    = "reward"
	ReasonFee       = "fee"
	ReasonWithdrawn = "withdrawn"
)

// Storage abstracts the subset of state manager functionality required by the
// ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// OnUnbalanced receives value created or freed outside a transfer, such as
// the inflation remainder.
type OnUnbalanced interface {
	OnUnbalanced(amount *uint256.Int) error
}

// Ledger tracks balances per (asset, account) together with the total
// issuance of every asset. Native balances may carry a staking lock which
// restricts what the owner can move.
type Ledger struct {
	store   Storage
	emitter events.Emitter
}

// NewLedger constructs a ledger on top of store.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event sink. Nil restores the no-op emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

func (l *Ledger) loadAmount(key []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := l.store.KVGet(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return types.BalanceFromBig(stored)
}

func (l *Ledger) writeAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return l.store.KVDelete(key)
	}
	return l.store.KVPut(key, types.BalanceToBig(amount))
}

// TotalIssuance returns the circulating supply of asset.
func (l *Ledger) TotalIssuance(asset types.AssetID) (*uint256.Int, error) {
	return l.loadAmount(issuanceKey(asset))
}

// Balance returns the full balance of account, including locked funds.
func (l *Ledger) Balance(asset types.AssetID, account types.AccountID) (*uint256.Int, error) {
	return l.loadAmount(balanceKey(asset, account))
}

// Locked returns the staking lock on account's native balance.
func (l *Ledger) Locked(account types.AccountID) (*uint256.Int, error) {
	return l.loadAmount(lockKey(account))
}

// Usable returns the balance the owner may move. Only the native asset
// carries locks.
func (l *Ledger) Usable(asset types.AssetID, account types.AccountID) (*uint256.Int, error) {
	balance, err := l.Balance(asset, account)
	if err != nil {
		return nil, err
	}
	if asset != types.NativeAsset {
		return balance, nil
	}
	locked, err := l.Locked(account)
	if err != nil {
		return nil, err
	}
	return types.SaturatingSub(balance, locked), nil
}

// SetLock sets the staking lock on account to amount. The lock may exceed
// the balance; it only limits outgoing movements.
func (l *Ledger) SetLock(account types.AccountID, amount *uint256.Int) error {
	return l.writeAmount(lockKey(account), amount)
}

// RemoveLock clears the staking lock.
func (l *Ledger) RemoveLock(account types.AccountID) error {
	return l.store.KVDelete(lockKey(account))
}

func (l *Ledger) credit(asset types.AssetID, account types.AccountID, amount *uint256.Int) error {
	current, err := l.Balance(asset, account)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return l.writeAmount(balanceKey(asset, account), updated)
}

func (l *Ledger) debit(asset types.AssetID, account types.AccountID, amount *uint256.Int) error {
	usable, err := l.Usable(asset, account)
	if err != nil {
		return err
	}
	if usable.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, usable.Dec(), amount.Dec())
	}
	current, err := l.Balance(asset, account)
	if err != nil {
		return err
	}
	return l.writeAmount(balanceKey(asset, account), new(uint256.Int).Sub(current, amount))
}

// Deposit mints amount into account, growing the total issuance.
func (l *Ledger) Deposit(asset types.AssetID, account types.AccountID, amount *uint256.Int, reason string) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	issuance, err := l.TotalIssuance(asset)
	if err != nil {
		return err
	}
	grown, overflow := new(uint256.Int).AddOverflow(issuance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.credit(asset, account, amount); err != nil {
		return err
	}
	if err := l.writeAmount(issuanceKey(asset), grown); err != nil {
		return err
	}
	l.emitter.Emit(events.BankMinted{Asset: asset, Account: account, Amount: types.CopyBalance(amount), Reason: reason})
	return nil
}

// Withdraw burns amount from account's usable balance.
func (l *Ledger) Withdraw(asset types.AssetID, account types.AccountID, amount *uint256.Int, reason string) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := l.debit(asset, account, amount); err != nil {
		return err
	}
	issuance, err := l.TotalIssuance(asset)
	if err != nil {
		return err
	}
	if err := l.writeAmount(issuanceKey(asset), types.SaturatingSub(issuance, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.BankBurned{Asset: asset, Account: account, Amount: types.CopyBalance(amount), Reason: reason})
	return nil
}

// Transfer moves amount of asset between two accounts.
func (l *Ledger) Transfer(asset types.AssetID, from, to types.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	if err := l.credit(asset, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.BankTransfer{Asset: asset, From: from, To: to, Amount: types.CopyBalance(amount)})
	return nil
}

// Issue credits a genesis allocation.
func (l *Ledger) Issue(asset types.AssetID, account types.AccountID, amount *uint256.Int) error {
	return l.Deposit(asset, account, amount, ReasonGenesis)
}

// Treasury mints unbalanced value into the treasury account.
type Treasury struct {
	Ledger  *Ledger
	Account types.AccountID
}

// OnUnbalanced implements OnUnbalanced.
func (t Treasury) OnUnbalanced(amount *uint256.Int) error {
	if t.Ledger == nil {
		return fmt.Errorf("bank: treasury ledger unavailable")
	}
	return t.Ledger.Deposit(types.NativeAsset, t.Account, amount, ReasonTreasury)
}
