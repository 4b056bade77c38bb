package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakechain/core/types"
	"stakechain/storage"
)

type sliceSource struct {
	pending []Extrinsic
}

func (s *sliceSource) Drain(limit int) []Extrinsic {
	if limit <= 0 || limit > len(s.pending) {
		limit = len(s.pending)
	}
	out := s.pending[:limit]
	s.pending = s.pending[limit:]
	return out
}

func (s *sliceSource) Requeue(exts []Extrinsic) {
	s.pending = append(append([]Extrinsic(nil), exts...), s.pending...)
}

func TestProducerBuildsBlocks(t *testing.T) {
	rt, _ := newTestRuntime(t)
	source := &sliceSource{pending: []Extrinsic{
		call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "1"}),
		call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "2"}),
		call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "3"}),
	}}
	producer := NewProducer(rt, source, validator, time.Second, 2, nil)

	// A wall clock behind genesis must not produce a block in the past.
	producer.SetClock(func() time.Time { return genesisAt.Add(-time.Hour) })
	result, err := producer.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Number)
	require.Equal(t, uint64(genesisAt.UnixMilli()), result.Header.Timestamp)
	require.Len(t, result.Receipts, 2)

	producer.SetClock(func() time.Time { return genesisAt.Add(time.Minute) })
	result, err = producer.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), result.Number)
	require.Equal(t, uint64(genesisAt.Add(time.Minute).UnixMilli()), result.Header.Timestamp)
	require.Len(t, result.Receipts, 1)
	require.Equal(t, uint64(6), balance(t, rt, types.NativeAsset, bob))
}

func TestProducerRequiresGenesis(t *testing.T) {
	rt, err := New(storage.NewMemDB(), testConfig())
	require.NoError(t, err)
	producer := NewProducer(rt, &sliceSource{}, validator, time.Second, 10, nil)
	_, err = producer.ProduceBlock(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestProducerRunStopsWithContext(t *testing.T) {
	rt, _ := newTestRuntime(t)
	producer := NewProducer(rt, &sliceSource{}, validator, 5*time.Millisecond, 10, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := producer.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, rt.Head().Number, uint64(0))
}

func TestProducerRequeuesOnFailedBlock(t *testing.T) {
	db := &flakyDB{MemDB: storage.NewMemDB()}
	rt, err := New(db, testConfig())
	require.NoError(t, err)
	_, err = rt.InitGenesis(testGenesis(t))
	require.NoError(t, err)

	first := call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "1"})
	second := call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "2"})
	source := &sliceSource{pending: []Extrinsic{first, second}}
	producer := NewProducer(rt, source, validator, time.Second, 10, nil)
	producer.SetClock(func() time.Time { return genesisAt.Add(time.Minute) })

	db.fail = true
	_, err = producer.ProduceBlock(context.Background())
	require.ErrorIs(t, err, errDiskFull)
	require.Len(t, source.pending, 2)
	require.Equal(t, first.Call.Name, source.pending[0].Call.Name)

	db.fail = false
	result, err := producer.ProduceBlock(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Receipts, 2)
	require.Empty(t, source.pending)
	require.Equal(t, uint64(3), balance(t, rt, types.NativeAsset, bob))
}
