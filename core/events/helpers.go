package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"stakechain/core/types"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func accountString(id types.AccountID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

func assetString(id types.AssetID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
