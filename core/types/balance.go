package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// NewBalance returns a balance holding v.
func NewBalance(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// CopyBalance returns a copy of v, treating nil as zero.
func CopyBalance(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// ParseBalance parses a base-10 amount. Empty input is zero.
func ParseBalance(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	out, overflow := uint256.FromBig(parsed)
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", value)
	}
	return out, nil
}

// BalanceToBig converts for RLP storage, which encodes big.Int natively.
func BalanceToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

// BalanceFromBig converts a stored big.Int back into a balance. Negative or
// oversized values are rejected.
func BalanceFromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative balance %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("balance %s overflows 256 bits", v)
	}
	return out, nil
}

// SaturatingSub returns a - b floored at zero.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	if b == nil {
		return new(uint256.Int).Set(a)
	}
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return new(uint256.Int)
	}
	return out
}

// SaturatingAdd returns a + b capped at the maximum balance.
func SaturatingAdd(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).AddOverflow(CopyBalance(a), CopyBalance(b))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}
