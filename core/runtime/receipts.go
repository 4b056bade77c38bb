package runtime

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakechain/storage/trie"
)

type storedReceipt struct {
	Index  uint64
	Call   string
	Origin string
	Fee    *uint256.Int
	Error  string
}

// EncodeReceipt returns the RLP form committed to by the receipts root.
func EncodeReceipt(r Receipt) ([]byte, error) {
	fee := r.Fee
	if fee == nil {
		fee = new(uint256.Int)
	}
	return rlp.EncodeToBytes(storedReceipt{
		Index:  uint64(r.Index),
		Call:   r.Call,
		Origin: r.Origin,
		Fee:    fee,
		Error:  r.Error,
	})
}

// ReceiptsRoot is the Merkle Patricia root over the block's receipts keyed
// by position. Blocks without calls commit to the empty root.
func ReceiptsRoot(receipts []Receipt) ([32]byte, error) {
	items := make([][]byte, 0, len(receipts))
	for i, receipt := range receipts {
		encoded, err := EncodeReceipt(receipt)
		if err != nil {
			return [32]byte{}, fmt.Errorf("encode receipt %d: %w", i, err)
		}
		items = append(items, encoded)
	}
	root, err := trie.DeriveRoot(items)
	if err != nil {
		return [32]byte{}, err
	}
	return root, nil
}
