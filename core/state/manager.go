package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"stakechain/storage"
)

var (
	// ErrOpenTransaction is returned by Commit while a Transact callback is
	// still running.
	ErrOpenTransaction = errors.New("state: transaction still open")

	digestKey = []byte("meta/state-digest")
)

type write struct {
	value   []byte
	deleted bool
}

// overlay buffers writes on top of its parent. The root overlay sits on the
// database and is flushed by Commit.
type overlay struct {
	parent *overlay
	writes map[string]write
}

func newOverlay(parent *overlay) *overlay {
	return &overlay{parent: parent, writes: make(map[string]write)}
}

// Manager is the key-value view of chain state. Keys are hashed with
// keccak256 and values are RLP encoded. Writes stay in memory until Commit.
//
// Manager is not safe for concurrent use; the runtime serialises access.
type Manager struct {
	db     storage.Database
	root   *overlay
	top    *overlay
	digest [32]byte
}

// NewManager creates a state manager on top of db, restoring the last
// committed digest when one exists.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database must not be nil")
	}
	root := newOverlay(nil)
	m := &Manager{db: db, root: root, top: root}
	raw, err := db.Get(digestKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		copy(m.digest[:], raw)
	}
	return m, nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	for o := m.top; o != nil; o = o.parent {
		if w, ok := o.writes[string(hashed)]; ok {
			if w.deleted {
				return nil, nil
			}
			return w.value, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) stage(hashed []byte, value []byte) {
	if value == nil {
		m.top.writes[string(hashed)] = write{deleted: true}
		return
	}
	m.top.writes[string(hashed)] = write{value: value}
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.stage(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.stage(kvKey(key), nil)
	return nil
}

// KVAppend appends value to the byte-slice list stored under key. Duplicate
// values are ignored.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.stage(hashed, encoded)
	return nil
}

// KVGetList decodes the list stored under key into out, which must point to
// a slice. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Transact runs fn against a fresh overlay. When fn returns nil its writes
// fold into the enclosing scope; otherwise they are discarded. Calls nest.
func (m *Manager) Transact(fn func() error) (err error) {
	scope := newOverlay(m.top)
	m.top = scope
	defer func() {
		m.top = scope.parent
		if r := recover(); r != nil {
			err = fmt.Errorf("state: transaction panicked: %v", r)
		}
		if err != nil {
			return
		}
		for k, w := range scope.writes {
			scope.parent.writes[k] = w
		}
	}()
	return fn()
}

// Pending reports the number of staged keys that Commit would flush.
func (m *Manager) Pending() int {
	return len(m.root.writes)
}

// Digest returns the digest produced by the last Commit.
func (m *Manager) Digest() [32]byte {
	return m.digest
}

// Commit flushes staged writes in a single batch and returns the new state
// digest: blake3 over the previous digest followed by the sorted write set.
func (m *Manager) Commit() ([32]byte, error) {
	return m.CommitWith(nil)
}

// StageFunc adds writes to the batch a commit flushes. It receives the digest
// the commit produces.
type StageFunc func(digest [32]byte, batch *storage.Batch) error

// CommitWith is Commit with extra writes staged into the same batch, so the
// state and the staged keys reach the database in a single write. When stage
// or the write fails nothing is flushed and the staged writes stay pending.
func (m *Manager) CommitWith(stage StageFunc) ([32]byte, error) {
	if m.top != m.root {
		return [32]byte{}, ErrOpenTransaction
	}
	keys := make([]string, 0, len(m.root.writes))
	for k := range m.root.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hasher := blake3.New(32, nil)
	hasher.Write(m.digest[:])
	batch := storage.NewBatch()
	for _, k := range keys {
		w := m.root.writes[k]
		hasher.Write([]byte(k))
		if w.deleted {
			hasher.Write([]byte{0})
			batch.Delete([]byte(k))
			continue
		}
		hasher.Write([]byte{1})
		hasher.Write(w.value)
		batch.Put([]byte(k), w.value)
	}
	var next [32]byte
	copy(next[:], hasher.Sum(nil))
	batch.Put(digestKey, next[:])
	if stage != nil {
		if err := stage(next, batch); err != nil {
			return [32]byte{}, fmt.Errorf("state: commit: %w", err)
		}
	}
	if err := m.db.Write(batch); err != nil {
		return [32]byte{}, fmt.Errorf("state: commit: %w", err)
	}
	m.digest = next
	m.root.writes = make(map[string]write)
	return next, nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.root.writes = make(map[string]write)
	m.top = m.root
}
