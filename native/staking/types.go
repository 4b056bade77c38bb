package staking

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"stakechain/core/types"
)

// StakingLedger is the bonded balance controlled by a controller account.
type StakingLedger struct {
	Stash  types.AccountID
	Total  *uint256.Int
	Active *uint256.Int
}

type storedLedger struct {
	Stash  types.AccountID
	Total  *big.Int
	Active *big.Int
}

func (l *StakingLedger) toStored() storedLedger {
	return storedLedger{Stash: l.Stash, Total: types.BalanceToBig(l.Total), Active: types.BalanceToBig(l.Active)}
}

func (s storedLedger) toLedger() (*StakingLedger, error) {
	total, err := types.BalanceFromBig(s.Total)
	if err != nil {
		return nil, err
	}
	active, err := types.BalanceFromBig(s.Active)
	if err != nil {
		return nil, err
	}
	return &StakingLedger{Stash: s.Stash, Total: total, Active: active}, nil
}

// DestinationKind selects where rewards land.
type DestinationKind uint8

const (
	// DestinationStaked deposits into the stash and bonds the reward.
	DestinationStaked DestinationKind = iota
	DestinationStash
	DestinationController
	DestinationAccount
	// DestinationNone discards the reward; it is not counted as paid.
	DestinationNone
)

// RewardDestination is the payee policy of a stash.
type RewardDestination struct {
	Kind    DestinationKind
	Account types.AccountID // only for DestinationAccount
}

func (d RewardDestination) String() string {
	switch d.Kind {
	case DestinationStaked:
		return "staked"
	case DestinationStash:
		return "stash"
	case DestinationController:
		return "controller"
	case DestinationAccount:
		return "account:" + d.Account.String()
	case DestinationNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", d.Kind)
	}
}

// ParseRewardDestination accepts "staked", "stash", "controller", "none" or
// "account:<address>".
func ParseRewardDestination(value string) (RewardDestination, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch trimmed {
	case "", "staked":
		return RewardDestination{Kind: DestinationStaked}, nil
	case "stash":
		return RewardDestination{Kind: DestinationStash}, nil
	case "controller":
		return RewardDestination{Kind: DestinationController}, nil
	case "none":
		return RewardDestination{Kind: DestinationNone}, nil
	}
	if rest, ok := strings.CutPrefix(strings.TrimSpace(value), "account:"); ok {
		account, err := types.ParseAccountID(rest)
		if err != nil {
			return RewardDestination{}, fmt.Errorf("staking: payee account: %w", err)
		}
		return RewardDestination{Kind: DestinationAccount, Account: account}, nil
	}
	return RewardDestination{}, fmt.Errorf("staking: unknown reward destination %q", value)
}

// ValidatorPrefs are the preferences a validator declares.
type ValidatorPrefs struct {
	Commission types.Perbill
}

// IndividualExposure is one nominator's backing of a validator.
type IndividualExposure struct {
	Who   types.AccountID
	Value *uint256.Int
}

// Exposure is a validator's backing for an era. Others holds at most
// MaxNominatorRewardedPerValidator entries, highest stake first, while Total
// counts every backer.
type Exposure struct {
	Total  *uint256.Int
	Own    *uint256.Int
	Others []IndividualExposure
}

type storedIndividual struct {
	Who   types.AccountID
	Value *big.Int
}

type storedExposure struct {
	Total  *big.Int
	Own    *big.Int
	Others []storedIndividual
}

func (e Exposure) toStored() storedExposure {
	out := storedExposure{Total: types.BalanceToBig(e.Total), Own: types.BalanceToBig(e.Own)}
	for _, o := range e.Others {
		out.Others = append(out.Others, storedIndividual{Who: o.Who, Value: types.BalanceToBig(o.Value)})
	}
	return out
}

func (s storedExposure) toExposure() (Exposure, error) {
	total, err := types.BalanceFromBig(s.Total)
	if err != nil {
		return Exposure{}, err
	}
	own, err := types.BalanceFromBig(s.Own)
	if err != nil {
		return Exposure{}, err
	}
	out := Exposure{Total: total, Own: own}
	for _, o := range s.Others {
		value, err := types.BalanceFromBig(o.Value)
		if err != nil {
			return Exposure{}, err
		}
		out.Others = append(out.Others, IndividualExposure{Who: o.Who, Value: value})
	}
	return out, nil
}

// RewardPoints maps validators to the points they earned, with a cached
// total that always equals the sum of the individual entries.
type RewardPoints struct {
	Total      uint32
	Individual map[types.AccountID]uint32
}

// NewRewardPoints returns an empty point set.
func NewRewardPoints() RewardPoints {
	return RewardPoints{Individual: make(map[types.AccountID]uint32)}
}

// Add credits points to who and returns what was credited. The total
// saturates at MaxUint32; points beyond it are dropped for the entry as well,
// so the total always equals the sum of the entries.
func (p *RewardPoints) Add(who types.AccountID, points uint32) uint32 {
	if p.Individual == nil {
		p.Individual = make(map[types.AccountID]uint32)
	}
	if room := math.MaxUint32 - p.Total; points > room {
		points = room
	}
	if points == 0 {
		return 0
	}
	p.Individual[who] += points
	p.Total += points
	return points
}

// Sum recomputes the total from the individual entries.
func (p RewardPoints) Sum() uint64 {
	var sum uint64
	for _, v := range p.Individual {
		sum += uint64(v)
	}
	return sum
}

// Consistent reports whether the cached total matches the entries.
func (p RewardPoints) Consistent() bool {
	return uint64(p.Total) == p.Sum()
}

// Clone returns a deep copy.
func (p RewardPoints) Clone() RewardPoints {
	out := RewardPoints{Total: p.Total, Individual: make(map[types.AccountID]uint32, len(p.Individual))}
	for k, v := range p.Individual {
		out.Individual[k] = v
	}
	return out
}

// Accounts lists the entries in byte order.
func (p RewardPoints) Accounts() []types.AccountID {
	out := make([]types.AccountID, 0, len(p.Individual))
	for k := range p.Individual {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type storedPoint struct {
	Who    types.AccountID
	Points uint32
}

// StoredRewardPoints is the RLP form of RewardPoints; maps cannot be encoded
// directly.
type StoredRewardPoints struct {
	Total   uint32
	Entries []storedPoint
}

// ToStored converts points into their storage form.
func (p RewardPoints) ToStored() StoredRewardPoints {
	out := StoredRewardPoints{Total: p.Total}
	for _, who := range p.Accounts() {
		out.Entries = append(out.Entries, storedPoint{Who: who, Points: p.Individual[who]})
	}
	return out
}

// FromStored rebuilds RewardPoints from storage.
func (s StoredRewardPoints) FromStored() RewardPoints {
	out := NewRewardPoints()
	out.Total = s.Total
	for _, e := range s.Entries {
		out.Individual[e.Who] = e.Points
	}
	return out
}
