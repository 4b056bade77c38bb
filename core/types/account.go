package types

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"stakechain/crypto"
)

// AccountID identifies an account on the chain.
type AccountID [20]byte

// AssetID identifies a fungible asset. Asset zero is the native token.
type AssetID uint32

// NativeAsset is the staking and fee token.
const NativeAsset AssetID = 0

// BlockNumber is a block height.
type BlockNumber = uint64

// EraIndex counts eras from genesis.
type EraIndex = uint32

// SessionIndex counts sessions from genesis.
type SessionIndex = uint32

// String renders the account in bech32 form.
func (a AccountID) String() string {
	return crypto.MustNewAddress(crypto.StakePrefix, a[:]).String()
}

// Hex renders the account as 0x-prefixed hex.
func (a AccountID) Hex() string {
	return common.Address(a).Hex()
}

// IsZero reports whether the account is all zero bytes.
func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

// Less orders accounts bytewise; used wherever iteration order must be
// deterministic.
func (a AccountID) Less(b AccountID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAccountID accepts the bech32 form or 0x-prefixed hex.
func ParseAccountID(value string) (AccountID, error) {
	var out AccountID
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("account must not be empty")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return out, fmt.Errorf("invalid hex account %q", trimmed)
		}
		return AccountID(common.HexToAddress(trimmed)), nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	if addr.Prefix() != crypto.StakePrefix && addr.Prefix() != crypto.ModulePrefix {
		return out, fmt.Errorf("unsupported account prefix %q", addr.Prefix())
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// MustParseAccountID is ParseAccountID for literals in tests and genesis presets.
func MustParseAccountID(value string) AccountID {
	out, err := ParseAccountID(value)
	if err != nil {
		panic(err)
	}
	return out
}

// ModuleAccount returns the keyless account owned by a runtime module.
func ModuleAccount(name string) AccountID {
	return AccountID(crypto.ModuleAddress(name))
}
