package bank

import (
	"encoding/binary"

	"stakechain/core/types"
)

var (
	balancePrefix  = []byte("bank/balance/")
	issuancePrefix = []byte("bank/issuance/")
	lockPrefix     = []byte("bank/lock/")
)

func assetBytes(asset types.AssetID) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(asset))
	return buf[:]
}

func balanceKey(asset types.AssetID, account types.AccountID) []byte {
	buf := make([]byte, 0, len(balancePrefix)+4+1+len(account))
	buf = append(buf, balancePrefix...)
	buf = append(buf, assetBytes(asset)...)
	buf = append(buf, '/')
	return append(buf, account[:]...)
}

func issuanceKey(asset types.AssetID) []byte {
	buf := make([]byte, 0, len(issuancePrefix)+4)
	buf = append(buf, issuancePrefix...)
	return append(buf, assetBytes(asset)...)
}

func lockKey(account types.AccountID) []byte {
	buf := make([]byte, 0, len(lockPrefix)+len(account))
	buf = append(buf, lockPrefix...)
	return append(buf, account[:]...)
}
