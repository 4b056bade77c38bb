package staking

import (
	"fmt"

	"stakechain/core/types"
)

var (
	bondedPrefix        = []byte("staking/bonded/")
	ledgerPrefix        = []byte("staking/ledger/")
	payeePrefix         = []byte("staking/payee/")
	validatorPrefix     = []byte("staking/validators/")
	nominatorPrefix     = []byte("staking/nominators/")
	validatorIndexKey   = []byte("staking/index/validators")
	nominatorIndexKey   = []byte("staking/index/nominators")
	currentEraKey       = []byte("staking/current-era")
	erasStakersFormat   = "staking/eras/%d/stakers/"
	erasPrefsFormat     = "staking/eras/%d/prefs/"
	erasValidatorsFmt   = "staking/eras/%d/validators"
	erasRewardPointsFmt = "staking/eras/%d/points"
	erasTotalStakeFmt   = "staking/eras/%d/total"
)

func accountKey(prefix []byte, account types.AccountID) []byte {
	buf := make([]byte, 0, len(prefix)+len(account))
	buf = append(buf, prefix...)
	return append(buf, account[:]...)
}

func bondedKey(stash types.AccountID) []byte { return accountKey(bondedPrefix, stash) }
func ledgerKey(controller types.AccountID) []byte { return accountKey(ledgerPrefix, controller) }
func payeeKey(stash types.AccountID) []byte { return accountKey(payeePrefix, stash) }
func validatorKey(stash types.AccountID) []byte { return accountKey(validatorPrefix, stash) }
func nominatorKey(stash types.AccountID) []byte { return accountKey(nominatorPrefix, stash) }

func erasStakersKey(era types.EraIndex, stash types.AccountID) []byte {
	return accountKey([]byte(fmt.Sprintf(erasStakersFormat, era)), stash)
}

func erasPrefsKey(era types.EraIndex, stash types.AccountID) []byte {
	return accountKey([]byte(fmt.Sprintf(erasPrefsFormat, era)), stash)
}

func erasValidatorsKey(era types.EraIndex) []byte {
	return []byte(fmt.Sprintf(erasValidatorsFmt, era))
}

func erasRewardPointsKey(era types.EraIndex) []byte {
	return []byte(fmt.Sprintf(erasRewardPointsFmt, era))
}

func erasTotalStakeKey(era types.EraIndex) []byte {
	return []byte(fmt.Sprintf(erasTotalStakeFmt, era))
}
