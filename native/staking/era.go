package staking

import (
	"bytes"
	"sort"

	"github.com/holiman/uint256"

	"stakechain/core/events"
	"stakechain/core/types"
)

// CurrentEra returns the active era. ok is false before the first era.
func (m *Module) CurrentEra() (types.EraIndex, bool, error) {
	var era uint64
	ok, err := m.store.KVGet(currentEraKey, &era)
	return types.EraIndex(era), ok, err
}

// NewEra snapshots exposures and validator preferences for era and makes it
// current. Each nominator's active bond is split evenly across its targets
// that are validators; the division remainder goes to the first of them.
func (m *Module) NewEra(era types.EraIndex) error {
	validators, err := m.Validators()
	if err != nil {
		return err
	}
	exposures := make(map[types.AccountID]*Exposure, len(validators))
	for _, stash := range validators {
		_, ledger, err := m.LedgerOfStash(stash)
		if err != nil {
			return err
		}
		exposures[stash] = &Exposure{Total: types.CopyBalance(ledger.Active), Own: types.CopyBalance(ledger.Active)}
	}

	nominators, err := m.NominatorStashes()
	if err != nil {
		return err
	}
	for _, stash := range nominators {
		_, ledger, err := m.LedgerOfStash(stash)
		if err != nil {
			return err
		}
		targets, err := m.Nominations(stash)
		if err != nil {
			return err
		}
		active := make([]types.AccountID, 0, len(targets))
		for _, t := range targets {
			if _, ok := exposures[t]; ok {
				active = append(active, t)
			}
		}
		if len(active) == 0 || ledger.Active.IsZero() {
			continue
		}
		share, rem := new(uint256.Int).DivMod(ledger.Active, uint256.NewInt(uint64(len(active))), new(uint256.Int))
		for i, t := range active {
			value := types.CopyBalance(share)
			if i == 0 {
				value.Add(value, rem)
			}
			if value.IsZero() {
				continue
			}
			exp := exposures[t]
			exp.Total = types.SaturatingAdd(exp.Total, value)
			exp.Others = append(exp.Others, IndividualExposure{Who: stash, Value: value})
		}
	}

	total := new(uint256.Int)
	limit := int(m.params.MaxNominatorRewardedPerValidator)
	for _, stash := range validators {
		exp := exposures[stash]
		sort.SliceStable(exp.Others, func(i, j int) bool {
			if c := exp.Others[i].Value.Cmp(exp.Others[j].Value); c != 0 {
				return c > 0
			}
			return bytes.Compare(exp.Others[i].Who[:], exp.Others[j].Who[:]) < 0
		})
		if len(exp.Others) > limit {
			exp.Others = exp.Others[:limit]
		}
		if err := m.store.KVPut(erasStakersKey(era, stash), exp.toStored()); err != nil {
			return err
		}
		prefs, _, err := m.ValidatorPrefs(stash)
		if err != nil {
			return err
		}
		if err := m.store.KVPut(erasPrefsKey(era, stash), uint32(prefs.Commission)); err != nil {
			return err
		}
		total = types.SaturatingAdd(total, exp.Total)
	}
	if err := m.store.KVPut(erasValidatorsKey(era), validators); err != nil {
		return err
	}
	if err := m.store.KVPut(erasTotalStakeKey(era), types.BalanceToBig(total)); err != nil {
		return err
	}
	if err := m.store.KVPut(currentEraKey, uint64(era)); err != nil {
		return err
	}
	if err := m.pruneEra(era); err != nil {
		return err
	}
	m.emitter.Emit(events.StakeEraStarted{Era: era, Validators: len(validators), TotalStake: total})
	return nil
}

func (m *Module) pruneEra(current types.EraIndex) error {
	depth := m.params.HistoryDepth
	if depth == 0 || current < depth {
		return nil
	}
	old := current - depth
	validators, err := m.EraValidators(old)
	if err != nil {
		return err
	}
	for _, stash := range validators {
		if err := m.store.KVDelete(erasStakersKey(old, stash)); err != nil {
			return err
		}
		if err := m.store.KVDelete(erasPrefsKey(old, stash)); err != nil {
			return err
		}
	}
	for _, key := range [][]byte{erasValidatorsKey(old), erasRewardPointsKey(old), erasTotalStakeKey(old)} {
		if err := m.store.KVDelete(key); err != nil {
			return err
		}
	}
	return nil
}

// EraValidators lists the validators elected for era.
func (m *Module) EraValidators(era types.EraIndex) ([]types.AccountID, error) {
	return m.loadIndex(erasValidatorsKey(era))
}

// ErasStakers returns the exposure snapshot of stash in era.
func (m *Module) ErasStakers(era types.EraIndex, stash types.AccountID) (Exposure, bool, error) {
	var stored storedExposure
	ok, err := m.store.KVGet(erasStakersKey(era, stash), &stored)
	if err != nil || !ok {
		return Exposure{Total: new(uint256.Int), Own: new(uint256.Int)}, ok, err
	}
	exp, err := stored.toExposure()
	if err != nil {
		return Exposure{}, false, err
	}
	return exp, true, nil
}

// ErasValidatorPrefs returns the preferences stash had when era started.
func (m *Module) ErasValidatorPrefs(era types.EraIndex, stash types.AccountID) (ValidatorPrefs, bool, error) {
	var parts uint32
	ok, err := m.store.KVGet(erasPrefsKey(era, stash), &parts)
	if err != nil || !ok {
		return ValidatorPrefs{}, ok, err
	}
	return ValidatorPrefs{Commission: types.PerbillFromParts(parts)}, true, nil
}

// ErasTotalStake returns the total exposure of era.
func (m *Module) ErasTotalStake(era types.EraIndex) (*uint256.Int, error) {
	return loadBig(m.store, erasTotalStakeKey(era))
}

// ErasRewardPoints returns the cumulative points earned in era.
func (m *Module) ErasRewardPoints(era types.EraIndex) (RewardPoints, error) {
	var stored StoredRewardPoints
	ok, err := m.store.KVGet(erasRewardPointsKey(era), &stored)
	if err != nil {
		return RewardPoints{}, err
	}
	if !ok {
		return NewRewardPoints(), nil
	}
	return stored.FromStored(), nil
}

// RewardByIDs credits reward points in era.
func (m *Module) RewardByIDs(era types.EraIndex, points map[types.AccountID]uint32) error {
	if len(points) == 0 {
		return nil
	}
	current, err := m.ErasRewardPoints(era)
	if err != nil {
		return err
	}
	accounts := make([]types.AccountID, 0, len(points))
	for who := range points {
		accounts = append(accounts, who)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Less(accounts[j]) })
	for _, who := range accounts {
		current.Add(who, points[who])
	}
	return m.store.KVPut(erasRewardPointsKey(era), current.ToStored())
}
