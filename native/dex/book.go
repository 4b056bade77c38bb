package dex

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
	"stakechain/native/bank"
	"stakechain/observability"
)

var (
	ErrInvalidOrderIndex        = errors.New("dex: invalid order index")
	ErrPairAssetIDMustNotEqual  = errors.New("dex: pair asset ids must not be equal")
	ErrExpirationMustBeInFuture = errors.New("dex: expiration must be in the future")
	ErrAssetIDNotInTokenIndex   = errors.New("dex: asset not listed")
	ErrAssetIDNotInTokenInfoes  = errors.New("dex: account holds no balance of asset")
	ErrUserAssetNotExist        = errors.New("dex: taker holds no balance of received asset")
	ErrNotOwner                 = errors.New("dex: not order owner")
	ErrNotEnoughBalance         = errors.New("dex: not enough balance")
	ErrTokenBalanceOverflow     = errors.New("dex: token balance overflow")
	ErrOrderIndexOverflow       = errors.New("dex: order index overflow")
	ErrZeroAmount               = errors.New("dex: amount must be positive")
	ErrTokenAlreadyListed       = errors.New("dex: asset already listed")
)

// PotName names the module account that custodies deposited assets.
const PotName = "dex"

// Storage is the state view the order book needs. Transact makes every
// public mutation all-or-nothing.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
	Transact(fn func() error) error
}

// Currency moves assets between user accounts and the exchange pot.
type Currency interface {
	Transfer(asset types.AssetID, from, to types.AccountID, amount *uint256.Int) error
}

// Book is the order book engine: internal token balances, resting orders and
// their pair, user and expiry indexes.
type Book struct {
	store    Storage
	currency Currency
	pot      types.AccountID
	emitter  events.Emitter
	logger   *slog.Logger
}

// NewBook constructs an order book over store. A nil logger uses
// slog.Default().
func NewBook(store Storage, currency Currency, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		store:    store,
		currency: currency,
		pot:      types.ModuleAccount(PotName),
		emitter:  events.NoopEmitter{},
		logger:   logger,
	}
}

// SetEmitter configures the event sink.
func (b *Book) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	b.emitter = emitter
}

// Pot returns the account holding deposited assets.
func (b *Book) Pot() types.AccountID {
	return b.pot
}

// ---- token index ----

// ListToken allows deposits of asset.
func (b *Book) ListToken(asset types.AssetID) error {
	listed, err := b.IsListed(asset)
	if err != nil {
		return err
	}
	if listed {
		return ErrTokenAlreadyListed
	}
	err = b.store.Transact(func() error {
		if err := b.store.KVPut(tokenKey(asset), true); err != nil {
			return err
		}
		var index []uint32
		if err := b.store.KVGetList(tokenIndexKey, &index); err != nil {
			return err
		}
		index = append(index, uint32(asset))
		sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })
		return b.store.KVPut(tokenIndexKey, index)
	})
	if err != nil {
		return err
	}
	b.emitter.Emit(events.DexTokenListed{Asset: asset})
	return nil
}

// DelistToken stops new deposits of asset. Existing balances and orders are
// untouched and can still be withdrawn, taken or canceled.
func (b *Book) DelistToken(asset types.AssetID) error {
	listed, err := b.IsListed(asset)
	if err != nil {
		return err
	}
	if !listed {
		return ErrAssetIDNotInTokenIndex
	}
	err = b.store.Transact(func() error {
		if err := b.store.KVDelete(tokenKey(asset)); err != nil {
			return err
		}
		var index []uint32
		if err := b.store.KVGetList(tokenIndexKey, &index); err != nil {
			return err
		}
		out := index[:0]
		for _, id := range index {
			if id != uint32(asset) {
				out = append(out, id)
			}
		}
		return b.store.KVPut(tokenIndexKey, out)
	})
	if err != nil {
		return err
	}
	b.emitter.Emit(events.DexTokenDelisted{Asset: asset})
	return nil
}

// IsListed reports whether asset accepts deposits.
func (b *Book) IsListed(asset types.AssetID) (bool, error) {
	var listed bool
	ok, err := b.store.KVGet(tokenKey(asset), &listed)
	if err != nil {
		return false, err
	}
	return ok && listed, nil
}

// ListedTokens returns the listed assets in ascending order.
func (b *Book) ListedTokens() ([]types.AssetID, error) {
	var index []uint32
	if err := b.store.KVGetList(tokenIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]types.AssetID, len(index))
	for i, id := range index {
		out[i] = types.AssetID(id)
	}
	return out, nil
}

// ---- token balances ----

// TokenInfo returns account's exchange balance of asset. The boolean is false
// when the account never held the asset.
func (b *Book) TokenInfo(account types.AccountID, asset types.AssetID) (TokenInfo, bool, error) {
	var stored storedTokenInfo
	ok, err := b.store.KVGet(infoKey(account, asset), &stored)
	if err != nil || !ok {
		return TokenInfo{Amount: new(uint256.Int), Reserved: new(uint256.Int)}, false, err
	}
	info, err := stored.toInfo()
	if err != nil {
		return TokenInfo{}, false, err
	}
	return info, true, nil
}

func (b *Book) putInfo(account types.AccountID, asset types.AssetID, info TokenInfo) error {
	return b.store.KVPut(infoKey(account, asset), info.toStored())
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrTokenBalanceOverflow
	}
	return out, nil
}

func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrNotEnoughBalance
	}
	return out, nil
}

func positive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

// Deposit moves amount of asset from the account's ledger balance into its
// exchange balance.
func (b *Book) Deposit(account types.AccountID, asset types.AssetID, amount *uint256.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	listed, err := b.IsListed(asset)
	if err != nil {
		return err
	}
	if !listed {
		return ErrAssetIDNotInTokenIndex
	}
	err = b.store.Transact(func() error {
		info, _, err := b.TokenInfo(account, asset)
		if err != nil {
			return err
		}
		if info.Amount, err = checkedAdd(info.Amount, amount); err != nil {
			return err
		}
		if err := b.currency.Transfer(asset, account, b.pot, amount); err != nil {
			if errors.Is(err, bank.ErrInsufficientBalance) {
				return fmt.Errorf("%w: %v", ErrNotEnoughBalance, err)
			}
			return err
		}
		return b.putInfo(account, asset, info)
	})
	if err != nil {
		return err
	}
	b.emitter.Emit(events.DexDeposited{Account: account, Asset: asset, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Withdraw returns amount of asset from the exchange balance to the account's
// ledger balance. Delisted assets can still be withdrawn.
func (b *Book) Withdraw(account types.AccountID, asset types.AssetID, amount *uint256.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	err := b.store.Transact(func() error {
		info, ok, err := b.TokenInfo(account, asset)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAssetIDNotInTokenInfoes
		}
		if info.Amount, err = checkedSub(info.Amount, amount); err != nil {
			return err
		}
		if err := b.putInfo(account, asset, info); err != nil {
			return err
		}
		return b.currency.Transfer(asset, b.pot, account, amount)
	})
	if err != nil {
		return err
	}
	b.emitter.Emit(events.DexWithdrawed{Account: account, Asset: asset, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// ---- orders ----

// NextOrderIndex returns the id the next order will receive.
func (b *Book) NextOrderIndex() (uint64, error) {
	var next uint64
	_, err := b.store.KVGet(nextOrderKey, &next)
	return next, err
}

// Order loads a resting order.
func (b *Book) Order(id uint64) (*Order, bool, error) {
	var stored storedOrder
	ok, err := b.store.KVGet(orderKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	order, err := stored.toOrder()
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (b *Book) ordersFrom(key []byte) ([]*Order, error) {
	var ids []uint64
	if err := b.store.KVGetList(key, &ids); err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		order, ok, err := b.Order(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, order)
		}
	}
	return out, nil
}

// OrdersByPair returns the open orders of a pair in id order. The assets may
// be given in either order.
func (b *Book) OrdersByPair(a, c types.AssetID) ([]*Order, error) {
	pair, _ := CanonicalPair(a, c)
	return b.ordersFrom(pairOrdersKey(pair))
}

// OrdersByUser returns the open orders owned by account.
func (b *Book) OrdersByUser(account types.AccountID) ([]*Order, error) {
	return b.ordersFrom(userOrdersKey(account))
}

// ExpiringAt returns the ids of orders scheduled to expire at block.
func (b *Book) ExpiringAt(block types.BlockNumber) ([]uint64, error) {
	var ids []uint64
	if err := b.store.KVGetList(expiryKey(block), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (b *Book) updateIndex(key []byte, id uint64, insert bool) error {
	var ids []uint64
	if err := b.store.KVGetList(key, &ids); err != nil {
		return err
	}
	if insert {
		ids = insertSorted(ids, id)
	} else {
		ids = removeSorted(ids, id)
	}
	if len(ids) == 0 {
		return b.store.KVDelete(key)
	}
	return b.store.KVPut(key, ids)
}

// insertOrder writes the order record and all three indexes together.
func (b *Book) insertOrder(order *Order) error {
	if err := b.store.KVPut(orderKey(order.ID), order.toStored()); err != nil {
		return err
	}
	if err := b.updateIndex(pairOrdersKey(order.Pair), order.ID, true); err != nil {
		return err
	}
	if err := b.updateIndex(userOrdersKey(order.Owner), order.ID, true); err != nil {
		return err
	}
	return b.updateIndex(expiryKey(order.Expiration), order.ID, true)
}

// removeOrder is the inverse of insertOrder.
func (b *Book) removeOrder(order *Order) error {
	if err := b.store.KVDelete(orderKey(order.ID)); err != nil {
		return err
	}
	if err := b.updateIndex(pairOrdersKey(order.Pair), order.ID, false); err != nil {
		return err
	}
	if err := b.updateIndex(userOrdersKey(order.Owner), order.ID, false); err != nil {
		return err
	}
	return b.updateIndex(expiryKey(order.Expiration), order.ID, false)
}

// MakeOrder places an order offering `offered` of the side's asset for
// `requested` of the other. The pair is canonicalised so the lower asset id
// is the base; when assetA > assetB the side flips to keep the meaning. The
// offered amount moves from the owner's free balance into reserve.
func (b *Book) MakeOrder(owner types.AccountID, assetA, assetB types.AssetID, offered, requested *uint256.Int, side Side, expiration, now types.BlockNumber) (uint64, error) {
	if assetA == assetB {
		return 0, ErrPairAssetIDMustNotEqual
	}
	if expiration <= now {
		return 0, ErrExpirationMustBeInFuture
	}
	if err := positive(offered); err != nil {
		return 0, err
	}
	if err := positive(requested); err != nil {
		return 0, err
	}
	pair, swapped := CanonicalPair(assetA, assetB)
	if swapped {
		side = side.Flip()
	}
	order := &Order{
		Owner:           owner,
		Pair:            pair,
		Expiration:      expiration,
		Side:            side,
		AmountOffered:   new(uint256.Int).Set(offered),
		AmountRequested: new(uint256.Int).Set(requested),
	}
	err := b.store.Transact(func() error {
		next, err := b.NextOrderIndex()
		if err != nil {
			return err
		}
		if next == math.MaxUint64 {
			return ErrOrderIndexOverflow
		}
		order.ID = next

		asset := order.OfferedAsset()
		info, ok, err := b.TokenInfo(owner, asset)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotEnoughBalance
		}
		if info.Amount, err = checkedSub(info.Amount, offered); err != nil {
			return err
		}
		if info.Reserved, err = checkedAdd(info.Reserved, offered); err != nil {
			return err
		}
		if err := b.putInfo(owner, asset, info); err != nil {
			return err
		}
		if err := b.store.KVPut(nextOrderKey, next+1); err != nil {
			return err
		}
		return b.insertOrder(order)
	})
	if err != nil {
		return 0, err
	}
	b.emitter.Emit(events.DexOrderCreated{
		ID:         order.ID,
		Owner:      owner,
		Base:       pair.Base,
		Quote:      pair.Quote,
		Side:       side.String(),
		Offered:    order.AmountOffered,
		Requested:  order.AmountRequested,
		Expiration: expiration,
	})
	observability.Dex().RecordOrder("created")
	return order.ID, nil
}

// release returns the reserved offer to the owner and removes the order.
func (b *Book) release(order *Order) error {
	asset := order.OfferedAsset()
	info, _, err := b.TokenInfo(order.Owner, asset)
	if err != nil {
		return err
	}
	if info.Reserved, err = checkedSub(info.Reserved, order.AmountOffered); err != nil {
		return err
	}
	if info.Amount, err = checkedAdd(info.Amount, order.AmountOffered); err != nil {
		return err
	}
	if err := b.putInfo(order.Owner, asset, info); err != nil {
		return err
	}
	return b.removeOrder(order)
}

// CancelOrder removes an order placed by account and unreserves its offer.
func (b *Book) CancelOrder(account types.AccountID, id uint64) error {
	order, ok, err := b.Order(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrderIndex
	}
	if order.Owner != account {
		return ErrNotOwner
	}
	if err := b.store.Transact(func() error { return b.release(order) }); err != nil {
		return err
	}
	b.emitter.Emit(events.DexOrderCanceled{ID: id, Owner: order.Owner, Reason: events.CancelReasonOwner})
	observability.Dex().RecordOrder("canceled")
	return nil
}

// TakeOrder fills an order in full. The taker pays the requested amount from
// their free balance and receives the offered amount; the maker's reserve is
// consumed and the requested amount credited to them. The taker must already
// hold a balance row for the asset they receive.
func (b *Book) TakeOrder(taker types.AccountID, id uint64) error {
	order, ok, err := b.Order(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrderIndex
	}
	give := order.OfferedAsset()
	get := order.RequestedAsset()

	err = b.store.Transact(func() error {
		if _, ok, err := b.TokenInfo(taker, give); err != nil {
			return err
		} else if !ok {
			return ErrUserAssetNotExist
		}
		payInfo, ok, err := b.TokenInfo(taker, get)
		if err != nil {
			return err
		}
		if !ok || payInfo.Amount.Lt(order.AmountRequested) {
			return ErrNotEnoughBalance
		}

		makerGive, _, err := b.TokenInfo(order.Owner, give)
		if err != nil {
			return err
		}
		if makerGive.Reserved, err = checkedSub(makerGive.Reserved, order.AmountOffered); err != nil {
			return err
		}
		if err := b.putInfo(order.Owner, give, makerGive); err != nil {
			return err
		}
		makerGet, _, err := b.TokenInfo(order.Owner, get)
		if err != nil {
			return err
		}
		if makerGet.Amount, err = checkedAdd(makerGet.Amount, order.AmountRequested); err != nil {
			return err
		}
		if err := b.putInfo(order.Owner, get, makerGet); err != nil {
			return err
		}

		// Reload: the taker may be the maker.
		takerGet, _, err := b.TokenInfo(taker, get)
		if err != nil {
			return err
		}
		if takerGet.Amount, err = checkedSub(takerGet.Amount, order.AmountRequested); err != nil {
			return err
		}
		if err := b.putInfo(taker, get, takerGet); err != nil {
			return err
		}
		takerGive, _, err := b.TokenInfo(taker, give)
		if err != nil {
			return err
		}
		if takerGive.Amount, err = checkedAdd(takerGive.Amount, order.AmountOffered); err != nil {
			return err
		}
		if err := b.putInfo(taker, give, takerGive); err != nil {
			return err
		}
		return b.removeOrder(order)
	})
	if err != nil {
		return err
	}
	b.emitter.Emit(events.DexOrderTaken{ID: id, Owner: order.Owner, Taker: taker})
	observability.Dex().RecordOrder("taken")
	return nil
}

// OnInitialize cancels every order whose expiration is block. Failures are
// logged and skipped; the expiry bucket is cleared regardless.
func (b *Book) OnInitialize(block types.BlockNumber) int {
	ids, err := b.ExpiringAt(block)
	if err != nil {
		b.logger.Error("dex: load expiring orders", slog.Uint64("block", block), slog.Any("error", err))
		return 0
	}
	expired := 0
	for _, id := range ids {
		order, ok, err := b.Order(id)
		if err != nil {
			b.logger.Warn("dex: load expiring order", slog.Uint64("order", id), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		if err := b.store.Transact(func() error { return b.release(order) }); err != nil {
			b.logger.Warn("dex: expire order",
				slog.Uint64("order", id),
				slog.String("owner", order.Owner.String()),
				slog.Any("error", err))
			continue
		}
		expired++
		b.emitter.Emit(events.DexOrderCanceled{ID: id, Owner: order.Owner, Reason: events.CancelReasonExpired})
		observability.Dex().RecordOrder("expired")
	}
	if err := b.store.KVDelete(expiryKey(block)); err != nil {
		b.logger.Warn("dex: clear expiry bucket", slog.Uint64("block", block), slog.Any("error", err))
	}
	if expired > 0 {
		b.logger.Debug("dex: expired orders", slog.Uint64("block", block), slog.Int("count", expired))
	}
	return expired
}
