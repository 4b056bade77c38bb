package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stakechain/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	m, err := NewManager(db)
	require.NoError(t, err)
	return m, db
}

func TestTransactRollsBackOnError(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.KVPut([]byte("a"), uint64(1)))

	boom := errors.New("boom")
	err := m.Transact(func() error {
		require.NoError(t, m.KVPut([]byte("a"), uint64(2)))
		require.NoError(t, m.KVPut([]byte("b"), uint64(3)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var got uint64
	ok, err := m.KVGet([]byte("a"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), got)

	ok, err = m.KVGet([]byte("b"), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNestedTransactKeepsOuterWrites(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Transact(func() error {
		require.NoError(t, m.KVPut([]byte("outer"), "kept"))
		inner := m.Transact(func() error {
			require.NoError(t, m.KVPut([]byte("inner"), "dropped"))
			require.NoError(t, m.KVDelete([]byte("outer")))
			return errors.New("inner failure")
		})
		require.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	var value string
	ok, err := m.KVGet([]byte("outer"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "kept", value)

	ok, err = m.KVGet([]byte("inner"), &value)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTransactRecoversPanic(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Transact(func() error {
		_ = m.KVPut([]byte("x"), uint64(1))
		panic("unexpected")
	})
	require.Error(t, err)
	require.Equal(t, 0, m.Pending())
}

func TestCommitPersistsAndChainsDigest(t *testing.T) {
	m, db := newTestManager(t)
	require.NoError(t, m.KVPut([]byte("amount"), big.NewInt(42)))
	require.NoError(t, m.KVAppend([]byte("list"), []byte{1}))
	require.NoError(t, m.KVAppend([]byte("list"), []byte{2}))
	require.NoError(t, m.KVAppend([]byte("list"), []byte{1}))

	first, err := m.Commit()
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, first)
	require.Equal(t, 0, m.Pending())

	reopened, err := NewManager(db)
	require.NoError(t, err)
	require.Equal(t, first, reopened.Digest())

	amount := new(big.Int)
	ok, err := reopened.KVGet([]byte("amount"), amount)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), amount.Int64())

	var list [][]byte
	require.NoError(t, reopened.KVGetList([]byte("list"), &list))
	require.Equal(t, [][]byte{{1}, {2}}, list)

	require.NoError(t, reopened.KVDelete([]byte("amount")))
	second, err := reopened.Commit()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, err = reopened.KVGet([]byte("amount"), amount)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitWithWritesStagedKeysAtomically(t *testing.T) {
	m, db := newTestManager(t)
	require.NoError(t, m.KVPut([]byte("amount"), uint64(7)))

	boom := errors.New("boom")
	_, err := m.CommitWith(func(digest [32]byte, batch *storage.Batch) error {
		batch.Put([]byte("extra"), digest[:])
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, db.Len())
	require.Equal(t, [32]byte{}, m.Digest())
	require.Equal(t, 1, m.Pending())

	digest, err := m.CommitWith(func(digest [32]byte, batch *storage.Batch) error {
		batch.Put([]byte("extra"), digest[:])
		return nil
	})
	require.NoError(t, err)
	raw, err := db.Get([]byte("extra"))
	require.NoError(t, err)
	require.Equal(t, digest[:], raw)
	require.Equal(t, digest, m.Digest())
}

func TestCommitRejectsOpenTransaction(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Transact(func() error {
		_, err := m.Commit()
		return err
	})
	require.ErrorIs(t, err, ErrOpenTransaction)
}

func TestKVGetListEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	var ids []uint64
	require.NoError(t, m.KVGetList([]byte("missing"), &ids))
	require.NotNil(t, ids)
	require.Len(t, ids, 0)
}

func TestEnsureStateVersion(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.EnsureStateVersion())
	require.NoError(t, m.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, m.EnsureStateVersion(), ErrStateVersionMismatch)
	require.NoError(t, m.SetStateVersion(StateVersion))
	require.NoError(t, m.EnsureStateVersion())
}
