package types

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader carries the metadata of an executed block and the state digest
// produced by committing it.
type BlockHeader struct {
	Number       BlockNumber `json:"number"`
	Timestamp    uint64      `json:"timestamp"` // unix milliseconds
	Author       AccountID   `json:"author"`
	ParentHash   [32]byte    `json:"parentHash"`
	StateDigest  [32]byte    `json:"stateDigest"`
	ReceiptsRoot [32]byte    `json:"receiptsRoot"`
	CallCount    uint64      `json:"callCount"`
}

// Hash returns the keccak256 hash of the RLP encoded header.
func (h *BlockHeader) Hash() ([32]byte, error) {
	var out [32]byte
	encoded, err := rlp.EncodeToBytes(h)
	if err != nil {
		return out, err
	}
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}
