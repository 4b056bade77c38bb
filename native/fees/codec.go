package fees

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"stakechain/core/types"
)

// Amount is a fee denominated in the native asset. It decodes from a TOML or
// JSON integer or from a decimal string, so values beyond int64 can be
// configured.
type Amount struct {
	value *uint256.Int
}

// NewAmount wraps v.
func NewAmount(v uint64) Amount {
	return Amount{value: uint256.NewInt(v)}
}

// Int returns a copy of the amount; zero when unset.
func (a Amount) Int() *uint256.Int {
	return types.CopyBalance(a.value)
}

// Clone returns an independent copy.
func (a Amount) Clone() Amount {
	if a.value == nil {
		return Amount{}
	}
	return Amount{value: a.Int()}
}

func (a Amount) String() string {
	return a.Int().Dec()
}

// MarshalJSON renders the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return a.set(text)
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("fees: amount must be a number or string: %w", err)
	}
	return a.set(number.String())
}

// UnmarshalTOML accepts a TOML integer or a decimal string.
func (a *Amount) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("fees: amount %d must not be negative", v)
		}
		a.value = uint256.NewInt(uint64(v))
		return nil
	case string:
		return a.set(v)
	default:
		return fmt.Errorf("fees: unsupported amount type %T", data)
	}
}

// MarshalText lets the TOML encoder persist defaults.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) set(text string) error {
	value, err := types.ParseBalance(text)
	if err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	a.value = value
	return nil
}
