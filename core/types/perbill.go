package types

import (
	"fmt"
	"math/big"
	"math/bits"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// PerbillAccuracy is the number of parts that make up one whole.
const PerbillAccuracy uint32 = 1_000_000_000

var perbillAccuracyBig = big.NewInt(int64(PerbillAccuracy))

// Perbill is a saturating fraction in [0, 1] expressed in parts per billion.
type Perbill uint32

// PerbillOne is the whole.
const PerbillOne = Perbill(PerbillAccuracy)

// PerbillFromParts clamps parts to the accuracy.
func PerbillFromParts(parts uint32) Perbill {
	if parts > PerbillAccuracy {
		return PerbillOne
	}
	return Perbill(parts)
}

// PerbillFromPercent converts a whole percentage.
func PerbillFromPercent(percent uint32) Perbill {
	if percent >= 100 {
		return PerbillOne
	}
	return Perbill(percent * (PerbillAccuracy / 100))
}

// PerbillFromRational returns n/d rounded down. A zero denominator or n >= d
// saturates to one.
func PerbillFromRational(n, d uint64) Perbill {
	if d == 0 || n >= d {
		return PerbillOne
	}
	hi, lo := bits.Mul64(n, uint64(PerbillAccuracy))
	// n < d guarantees hi < d, so Div64 cannot panic.
	q, _ := bits.Div64(hi, lo, d)
	return Perbill(q)
}

// PerbillFromRationalBalance is PerbillFromRational over balances.
func PerbillFromRationalBalance(n, d *uint256.Int) Perbill {
	if d == nil || d.IsZero() {
		return PerbillOne
	}
	if n == nil || n.IsZero() {
		return 0
	}
	if !n.Lt(d) {
		return PerbillOne
	}
	num := new(big.Int).Mul(n.ToBig(), perbillAccuracyBig)
	num.Quo(num, d.ToBig())
	return Perbill(num.Uint64())
}

// Parts returns the raw parts-per-billion value.
func (p Perbill) Parts() uint32 {
	return uint32(p)
}

// IsZero reports whether the fraction is zero.
func (p Perbill) IsZero() bool {
	return p == 0
}

// Complement returns one minus p.
func (p Perbill) Complement() Perbill {
	return PerbillOne - p.clamp()
}

// SaturatingSub returns p - q floored at zero.
func (p Perbill) SaturatingSub(q Perbill) Perbill {
	if q >= p {
		return 0
	}
	return p - q
}

// SaturatingAdd returns p + q capped at one.
func (p Perbill) SaturatingAdd(q Perbill) Perbill {
	sum := uint64(p) + uint64(q)
	if sum > uint64(PerbillAccuracy) {
		return PerbillOne
	}
	return Perbill(sum)
}

// Mul multiplies two fractions, rounding down.
func (p Perbill) Mul(q Perbill) Perbill {
	return Perbill(uint64(p.clamp()) * uint64(q.clamp()) / uint64(PerbillAccuracy))
}

// Half returns p/2 rounded down.
func (p Perbill) Half() Perbill {
	return p.clamp() / 2
}

// MulBalance returns p * x rounded to the nearest integer, ties rounding
// down. The result never exceeds x.
func (p Perbill) MulBalance(x *uint256.Int) *uint256.Int {
	if x == nil || x.IsZero() || p == 0 {
		return new(uint256.Int)
	}
	if p.clamp() == PerbillOne {
		return new(uint256.Int).Set(x)
	}
	prod := new(big.Int).Mul(x.ToBig(), big.NewInt(int64(p)))
	quo, rem := new(big.Int).QuoRem(prod, perbillAccuracyBig, new(big.Int))
	if rem.Lsh(rem, 1).Cmp(perbillAccuracyBig) > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	out, _ := uint256.FromBig(quo)
	return out
}

// String renders the fraction as a trimmed percentage, e.g. "14.928%".
func (p Perbill) String() string {
	parts := uint32(p.clamp())
	whole := parts / 10_000_000
	frac := parts % 10_000_000
	if frac == 0 {
		return strconv.FormatUint(uint64(whole), 10) + "%"
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%07d", frac), "0")
	return fmt.Sprintf("%d.%s%%", whole, fracStr)
}

// ParsePerbill accepts either a percentage ("16%", "6.7%") or raw parts
// ("160000000").
func ParsePerbill(value string) (Perbill, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("perbill must not be empty")
	}
	if !strings.HasSuffix(trimmed, "%") {
		parts, err := strconv.ParseUint(trimmed, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid perbill %q: %w", value, err)
		}
		if parts > uint64(PerbillAccuracy) {
			return 0, fmt.Errorf("perbill %q exceeds one", value)
		}
		return Perbill(parts), nil
	}
	number := strings.TrimSpace(strings.TrimSuffix(trimmed, "%"))
	whole, frac, _ := strings.Cut(number, ".")
	if len(frac) > 7 {
		return 0, fmt.Errorf("percentage %q has more than 7 decimals", value)
	}
	wholeVal, err := strconv.ParseUint(whole, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", value, err)
	}
	var fracVal uint64
	if frac != "" {
		fracVal, err = strconv.ParseUint(frac+strings.Repeat("0", 7-len(frac)), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q: %w", value, err)
		}
	}
	parts := wholeVal*10_000_000 + fracVal
	if parts > uint64(PerbillAccuracy) {
		return 0, fmt.Errorf("percentage %q exceeds 100%%", value)
	}
	return Perbill(parts), nil
}

func (p Perbill) clamp() Perbill {
	if p > PerbillOne {
		return PerbillOne
	}
	return p
}
