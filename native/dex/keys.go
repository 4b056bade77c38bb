package dex

import (
	"encoding/binary"
	"fmt"
	"sort"

	"stakechain/core/types"
)

var (
	tokenPrefix      = []byte("dex/token/")
	tokenIndexKey    = []byte("dex/token/index")
	infoPrefix       = []byte("dex/info/")
	orderPrefix      = []byte("dex/order/")
	userOrdersPrefix = []byte("dex/user/")
	nextOrderKey     = []byte("dex/next-order")
)

func u32(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func tokenKey(asset types.AssetID) []byte { return join(tokenPrefix, u32(uint32(asset))) }

func infoKey(account types.AccountID, asset types.AssetID) []byte {
	return join(infoPrefix, account[:], u32(uint32(asset)))
}

func orderKey(id uint64) []byte { return join(orderPrefix, u64(id)) }

func pairOrdersKey(pair Pair) []byte {
	return []byte(fmt.Sprintf("dex/pair/%d/%d", pair.Base, pair.Quote))
}

func userOrdersKey(account types.AccountID) []byte { return join(userOrdersPrefix, account[:]) }

func expiryKey(block types.BlockNumber) []byte {
	return []byte(fmt.Sprintf("dex/expiry/%d", block))
}

func insertSorted(list []uint64, v uint64) []uint64 {
	idx := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if idx < len(list) && list[idx] == v {
		return list
	}
	list = append(list, 0)
	copy(list[idx+1:], list[idx:])
	list[idx] = v
	return list
}

func removeSorted(list []uint64, v uint64) []uint64 {
	idx := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if idx < len(list) && list[idx] == v {
		return append(list[:idx], list[idx+1:]...)
	}
	return list
}
