package runtime

import (
	"errors"

	"github.com/holiman/uint256"

	"stakechain/core/types"
	"stakechain/native/dex"
	"stakechain/native/inflation"
	"stakechain/native/staking"
)

// SessionInfo describes the session in progress.
type SessionInfo struct {
	Height        types.BlockNumber  `json:"height"`
	Session       types.SessionIndex `json:"session"`
	Era           types.EraIndex     `json:"era"`
	SessionStart  uint64             `json:"sessionStart"`
	NextSessionAt types.BlockNumber  `json:"nextSessionAt"`
	Commission    string             `json:"commission"`
	EraPoints     uint32             `json:"eraPoints"`
	Validators    []types.AccountID  `json:"validators"`
}

// StakeInfo is the bonding state of a stash.
type StakeInfo struct {
	Stash      types.AccountID   `json:"stash"`
	Controller types.AccountID   `json:"controller"`
	Total      *uint256.Int      `json:"total"`
	Active     *uint256.Int      `json:"active"`
	Payee      string            `json:"payee"`
	Validator  bool              `json:"validator"`
	Targets    []types.AccountID `json:"targets,omitempty"`
}

// Head returns the latest committed header, nil before genesis.
func (r *Runtime) Head() *types.BlockHeader {
	return r.chain.Head()
}

// HeaderByNumber loads a committed header.
func (r *Runtime) HeaderByNumber(number types.BlockNumber) (*types.BlockHeader, error) {
	return r.chain.HeaderByNumber(number)
}

// Treasury returns the treasury account.
func (r *Runtime) Treasury() types.AccountID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.treasury
}

// Balance returns the ledger balance of account.
func (r *Runtime) Balance(asset types.AssetID, account types.AccountID) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bank.Balance(asset, account)
}

// TotalIssuance returns the supply of asset.
func (r *Runtime) TotalIssuance(asset types.AssetID) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bank.TotalIssuance(asset)
}

// InflationParams returns the current schedule.
func (r *Runtime) InflationParams() (inflation.Params, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedule.Params()
}

// Session reports the session and era in progress.
func (r *Runtime) Session() (SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := SessionInfo{Commission: r.payout.Commission().String()}
	if head := r.chain.Head(); head != nil {
		info.Height = head.Number
	}
	info.Session = types.SessionIndex(info.Height/r.cfg.SessionLength) + 1
	info.NextSessionAt = (info.Height/r.cfg.SessionLength + 1) * r.cfg.SessionLength
	era, _, err := r.staking.CurrentEra()
	if err != nil {
		return info, err
	}
	info.Era = era
	if start, ok, err := r.payout.SessionStart(); err != nil {
		return info, err
	} else if ok {
		info.SessionStart = start
	}
	points, err := r.staking.ErasRewardPoints(era)
	if err != nil {
		return info, err
	}
	info.EraPoints = points.Total
	if info.Validators, err = r.staking.EraValidators(era); err != nil {
		return info, err
	}
	return info, nil
}

// Stake returns the bonding state of stash; the boolean is false when the
// stash is not bonded.
func (r *Runtime) Stake(stash types.AccountID) (*StakeInfo, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	controller, ledger, err := r.staking.LedgerOfStash(stash)
	if err != nil {
		if errors.Is(err, staking.ErrNotStash) {
			return nil, false, nil
		}
		return nil, false, err
	}
	payee, err := r.staking.Payee(stash)
	if err != nil {
		return nil, false, err
	}
	_, isValidator, err := r.staking.ValidatorPrefs(stash)
	if err != nil {
		return nil, false, err
	}
	targets, err := r.staking.Nominations(stash)
	if err != nil {
		return nil, false, err
	}
	return &StakeInfo{
		Stash:      stash,
		Controller: controller,
		Total:      ledger.Total,
		Active:     ledger.Active,
		Payee:      payee.String(),
		Validator:  isValidator,
		Targets:    targets,
	}, true, nil
}

// Order returns a resting order.
func (r *Runtime) Order(id uint64) (*dex.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dex.Order(id)
}

// OrdersByPair returns the open orders of a pair.
func (r *Runtime) OrdersByPair(a, b types.AssetID) ([]*dex.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dex.OrdersByPair(a, b)
}

// OrdersByUser returns the open orders of account.
func (r *Runtime) OrdersByUser(account types.AccountID) ([]*dex.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dex.OrdersByUser(account)
}

// TokenInfo returns the exchange balance of account in asset.
func (r *Runtime) TokenInfo(account types.AccountID, asset types.AssetID) (dex.TokenInfo, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dex.TokenInfo(account, asset)
}

// ListedTokens returns the assets accepted by the exchange.
func (r *Runtime) ListedTokens() ([]types.AssetID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dex.ListedTokens()
}

// NextOrderIndex returns the id the next order receives.
func (r *Runtime) NextOrderIndex() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dex.NextOrderIndex()
}

// Tasks returns the pending scheduled tasks.
func (r *Runtime) Tasks() ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduler.Tasks()
}
