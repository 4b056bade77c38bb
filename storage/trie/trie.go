package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"
)

// EmptyRoot is the root of a trie without entries.
var EmptyRoot = gethtypes.EmptyRootHash

// Key returns the trie key of the item at position i. Keys are fixed-width
// big-endian so positional order matches key order.
func Key(i int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(i))
	return key
}

// DeriveRoot returns the Merkle Patricia root over items keyed by position.
// Items must be non-empty encodings.
func DeriveRoot(items [][]byte) (common.Hash, error) {
	st := gethtrie.NewStackTrie(nil)
	for i, item := range items {
		if len(item) == 0 {
			return common.Hash{}, fmt.Errorf("trie: item %d is empty", i)
		}
		if err := st.Update(Key(i), item); err != nil {
			return common.Hash{}, fmt.Errorf("trie: insert item %d: %w", i, err)
		}
	}
	return st.Hash(), nil
}

// Indexed is an in-memory positional trie that can look items up again after
// it has been committed, e.g. to serve a receipt by index.
type Indexed struct {
	trieDB *triedb.Database
	trie   *gethtrie.Trie
	root   common.Hash
}

// NewIndexed builds a committed trie over items.
func NewIndexed(items [][]byte) (*Indexed, error) {
	trieDB := triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil)
	tr, err := gethtrie.New(gethtrie.TrieID(EmptyRoot), trieDB)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		if len(item) == 0 {
			return nil, fmt.Errorf("trie: item %d is empty", i)
		}
		if err := tr.Update(Key(i), item); err != nil {
			return nil, err
		}
	}
	root, nodes := tr.Commit(false)
	if nodes != nil {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(nodes); err != nil {
			return nil, err
		}
		if err := trieDB.Update(root, EmptyRoot, 0, merged, nil); err != nil {
			return nil, err
		}
		if err := trieDB.Commit(root, false); err != nil {
			return nil, err
		}
	}
	reopened, err := gethtrie.New(gethtrie.TrieID(root), trieDB)
	if err != nil {
		return nil, err
	}
	return &Indexed{trieDB: trieDB, trie: reopened, root: root}, nil
}

// Root returns the committed root hash.
func (t *Indexed) Root() common.Hash {
	return t.root
}

// Get returns the item at position i, or nil when absent.
func (t *Indexed) Get(i int) ([]byte, error) {
	return t.trie.Get(Key(i))
}
