package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakechain/core/genesis"
	"stakechain/core/types"
	"stakechain/native/dex"
	"stakechain/native/fees"
	"stakechain/storage"
	"stakechain/storage/trie"
)

const blockMillis = 6_000

var (
	validator = types.AccountID{1}
	alice     = types.AccountID{2}
	bob       = types.AccountID{3}
	genesisAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SessionLength = 2
	cfg.SessionsPerEra = 2
	cfg.YearBlocks = 4
	cfg.DecayYears = 2
	cfg.Fees = fees.Policy{Default: fees.NewAmount(10)}
	return cfg
}

func testGenesis(t *testing.T) *genesis.GenesisSpec {
	t.Helper()
	spec := &genesis.GenesisSpec{
		GenesisTime: genesisAt.Format(time.RFC3339),
		Balances: []genesis.BalanceSpec{
			{Account: validator.String(), Asset: 0, Amount: "1000000000000"},
			{Account: alice.String(), Asset: 0, Amount: "1000000"},
			{Account: alice.String(), Asset: 777, Amount: "500"},
		},
		DexAssets: []uint32{777},
		Stakers: []genesis.StakerSpec{
			{Stash: validator.String(), Bond: "500000000000", Role: genesis.RoleValidator, Commission: "0", Payee: "stash"},
		},
	}
	require.NoError(t, spec.Validate())
	return spec
}

type recordingListener struct {
	blocks []*BlockResult
}

func (l *recordingListener) OnBlock(result *BlockResult) { l.blocks = append(l.blocks, result) }

func newTestRuntime(t *testing.T) (*Runtime, *recordingListener) {
	t.Helper()
	rt, err := New(storage.NewMemDB(), testConfig())
	require.NoError(t, err)
	listener := &recordingListener{}
	rt.AddListener(listener)
	_, err = rt.InitGenesis(testGenesis(t))
	require.NoError(t, err)
	return rt, listener
}

func call(t *testing.T, origin Origin, name string, args interface{}) Extrinsic {
	t.Helper()
	c, err := NewCall(name, args)
	require.NoError(t, err)
	return Extrinsic{Origin: origin, Call: c}
}

func execute(t *testing.T, rt *Runtime, exts ...Extrinsic) *BlockResult {
	t.Helper()
	head := rt.Head()
	require.NotNil(t, head)
	number := head.Number + 1
	result, err := rt.ExecuteBlock(context.Background(), Block{
		Number:     number,
		Timestamp:  uint64(genesisAt.UnixMilli()) + number*blockMillis,
		Author:     validator,
		Extrinsics: exts,
	})
	require.NoError(t, err)
	return result
}

func balance(t *testing.T, rt *Runtime, asset types.AssetID, who types.AccountID) uint64 {
	t.Helper()
	value, err := rt.Balance(asset, who)
	require.NoError(t, err)
	return value.Uint64()
}

func TestInitGenesis(t *testing.T) {
	rt, listener := newTestRuntime(t)

	head := rt.Head()
	require.NotNil(t, head)
	require.Equal(t, uint64(0), head.Number)
	require.Equal(t, uint64(genesisAt.UnixMilli()), head.Timestamp)
	require.Equal(t, [32]byte(trie.EmptyRoot), head.ReceiptsRoot)
	require.Len(t, listener.blocks, 1)
	require.NotEmpty(t, listener.blocks[0].Events)

	stake, ok, err := rt.Stake(validator)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stake.Validator)
	require.Equal(t, uint64(500_000_000_000), stake.Active.Uint64())

	listed, err := rt.ListedTokens()
	require.NoError(t, err)
	require.Equal(t, []types.AssetID{777}, listed)

	tasks, err := rt.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, Task{ID: TaskYearlyDecay, Next: 4, Interval: 4, Remaining: 2}, tasks[0])

	_, err = rt.InitGenesis(testGenesis(t))
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestExecuteBlockChargesFees(t *testing.T) {
	rt, _ := newTestRuntime(t)
	treasuryBefore := balance(t, rt, types.NativeAsset, rt.Treasury())
	authorBefore := balance(t, rt, types.NativeAsset, validator)
	issuanceBefore, err := rt.TotalIssuance(types.NativeAsset)
	require.NoError(t, err)

	result := execute(t, rt,
		call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "100"}),
		call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "99999999"}),
	)
	require.Len(t, result.Receipts, 2)
	require.True(t, result.Receipts[0].Success())
	require.False(t, result.Receipts[1].Success())
	require.Equal(t, uint64(10), result.Receipts[1].Fee.Uint64())

	root, err := ReceiptsRoot(result.Receipts)
	require.NoError(t, err)
	require.Equal(t, root, rt.Head().ReceiptsRoot)
	require.NotEqual(t, [32]byte(trie.EmptyRoot), root)

	// Both calls pay the fee; only the first moves funds.
	require.Equal(t, uint64(1_000_000-100-20), balance(t, rt, types.NativeAsset, alice))
	require.Equal(t, uint64(100), balance(t, rt, types.NativeAsset, bob))
	require.Equal(t, treasuryBefore+4, balance(t, rt, types.NativeAsset, rt.Treasury()))
	require.Equal(t, authorBefore+16, balance(t, rt, types.NativeAsset, validator))

	issuance, err := rt.TotalIssuance(types.NativeAsset)
	require.NoError(t, err)
	require.True(t, issuance.Eq(issuanceBefore), "fees must not change issuance")
}

func TestCallOrigins(t *testing.T) {
	rt, _ := newTestRuntime(t)
	result := execute(t, rt,
		call(t, Signed(alice), CallChangeInflation, ValueArgs{Value: "1%"}),
		call(t, RootOrigin(), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "1"}),
		call(t, RootOrigin(), CallChangeInflation, ValueArgs{Value: "12%"}),
		call(t, Signed(alice), "bank.unknown", nil),
	)
	require.Contains(t, result.Receipts[0].Error, ErrBadOrigin.Error())
	require.Equal(t, uint64(10), result.Receipts[0].Fee.Uint64())
	require.Contains(t, result.Receipts[1].Error, ErrBadOrigin.Error())
	require.True(t, result.Receipts[1].Fee.IsZero(), "root calls are free")
	require.True(t, result.Receipts[2].Success())
	require.Contains(t, result.Receipts[3].Error, ErrUnknownCall.Error())

	params, err := rt.InflationParams()
	require.NoError(t, err)
	require.Equal(t, types.PerbillFromPercent(12), params.InflationPercent)
}

func TestSessionPayoutAndEraRotation(t *testing.T) {
	rt, listener := newTestRuntime(t)

	first := execute(t, rt)
	require.Nil(t, first.Session)
	issuanceBefore, err := rt.TotalIssuance(types.NativeAsset)
	require.NoError(t, err)
	stashBefore := balance(t, rt, types.NativeAsset, validator)

	second := execute(t, rt)
	require.NotNil(t, second.Session)
	report := second.Session
	require.Equal(t, types.SessionIndex(1), report.Session)
	require.Equal(t, uint64(2*blockMillis), report.Duration)
	require.False(t, report.TotalInflation.IsZero())
	require.False(t, report.ValidatorPayout.IsZero())
	require.True(t, report.Paid.Eq(report.ValidatorPayout), "the only validator earned every point")
	require.True(t, report.Unpaid.IsZero())
	require.Nil(t, second.NewEra)

	issuance, err := rt.TotalIssuance(types.NativeAsset)
	require.NoError(t, err)
	minted := new(uint256.Int).Sub(issuance, issuanceBefore)
	require.True(t, minted.Eq(report.TotalInflation), "minted %s, inflation %s", minted.Dec(), report.TotalInflation.Dec())
	require.Equal(t, stashBefore+report.Paid.Uint64(), balance(t, rt, types.NativeAsset, validator))

	execute(t, rt)
	fourth := execute(t, rt)
	require.NotNil(t, fourth.Session)
	require.NotNil(t, fourth.NewEra)
	require.Equal(t, types.EraIndex(1), *fourth.NewEra)

	info, err := rt.Session()
	require.NoError(t, err)
	require.Equal(t, types.EraIndex(1), info.Era)
	require.Equal(t, []types.AccountID{validator}, info.Validators)
	require.Equal(t, types.BlockNumber(6), info.NextSessionAt)
	require.Len(t, listener.blocks, 5)
	require.Same(t, fourth, listener.blocks[4])
}

func TestYearlyDecayTask(t *testing.T) {
	rt, _ := newTestRuntime(t)
	for i := 0; i < 3; i++ {
		execute(t, rt)
	}
	params, err := rt.InflationParams()
	require.NoError(t, err)
	require.Equal(t, types.PerbillFromPercent(16), params.InflationPercent)

	execute(t, rt)
	params, err = rt.InflationParams()
	require.NoError(t, err)
	require.Less(t, params.InflationPercent.Parts(), types.PerbillFromPercent(16).Parts())
	require.Equal(t, types.BlockNumber(4), params.LastDecay)

	tasks, err := rt.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, types.BlockNumber(8), tasks[0].Next)
	require.Equal(t, uint32(1), tasks[0].Remaining)

	// A manual decay inside the same year is rejected.
	result := execute(t, rt, call(t, RootOrigin(), CallApplyYearlyDecay, nil))
	require.False(t, result.Receipts[0].Success())

	for i := 0; i < 3; i++ {
		execute(t, rt)
	}
	tasks, err = rt.Tasks()
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestDexCallsAndExpiry(t *testing.T) {
	rt, _ := newTestRuntime(t)
	result := execute(t, rt,
		call(t, Signed(alice), CallDexDeposit, AssetAmountArgs{Asset: 777, Amount: "200"}),
		call(t, Signed(alice), CallDexMakeOrder, MakeOrderArgs{
			AssetA: 777, AssetB: types.NativeAsset, Offered: "50", Requested: "100", Side: "sell", Expiration: 3,
		}),
	)
	for _, receipt := range result.Receipts {
		require.True(t, receipt.Success(), receipt.Error)
	}

	order, ok, err := rt.Order(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dex.Pair{Base: types.NativeAsset, Quote: 777}, order.Pair)
	require.Equal(t, dex.Buy, order.Side)
	info, _, err := rt.TokenInfo(alice, 777)
	require.NoError(t, err)
	require.Equal(t, uint64(50), info.Reserved.Uint64())

	execute(t, rt)
	expired := execute(t, rt)
	require.Equal(t, 1, expired.Expired)
	_, ok, err = rt.Order(0)
	require.NoError(t, err)
	require.False(t, ok)
	info, _, err = rt.TokenInfo(alice, 777)
	require.NoError(t, err)
	require.True(t, info.Reserved.IsZero())
	require.Equal(t, uint64(200), info.Amount.Uint64())
}

func TestExecuteBlockRejectsBadBlocks(t *testing.T) {
	rt, err := New(storage.NewMemDB(), testConfig())
	require.NoError(t, err)
	_, err = rt.ExecuteBlock(context.Background(), Block{Number: 1})
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = rt.InitGenesis(testGenesis(t))
	require.NoError(t, err)
	now := uint64(genesisAt.UnixMilli())

	_, err = rt.ExecuteBlock(context.Background(), Block{Number: 2, Timestamp: now})
	require.ErrorIs(t, err, ErrBlockOutOfOrder)
	_, err = rt.ExecuteBlock(context.Background(), Block{Number: 1, Timestamp: now - 1})
	require.ErrorIs(t, err, ErrTimeWentBackwards)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rt.ExecuteBlock(ctx, Block{Number: 1, Timestamp: now})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, uint64(0), rt.Head().Number)
}

func TestRuntimeReopensCommittedState(t *testing.T) {
	db := storage.NewMemDB()
	rt, err := New(db, testConfig())
	require.NoError(t, err)
	_, err = rt.InitGenesis(testGenesis(t))
	require.NoError(t, err)
	execute(t, rt, call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "5"}))

	reopened, err := New(db, testConfig())
	require.NoError(t, err)
	require.Equal(t, uint64(1), reopened.Head().Number)
	require.Equal(t, uint64(5), balance(t, reopened, types.NativeAsset, bob))
}

var errDiskFull = errors.New("disk full")

type flakyDB struct {
	*storage.MemDB
	fail bool
}

func (db *flakyDB) Write(batch *storage.Batch) error {
	if db.fail {
		return errDiskFull
	}
	return db.MemDB.Write(batch)
}

func TestFailedCommitLeavesBlockUnapplied(t *testing.T) {
	db := &flakyDB{MemDB: storage.NewMemDB()}
	rt, err := New(db, testConfig())
	require.NoError(t, err)
	_, err = rt.InitGenesis(testGenesis(t))
	require.NoError(t, err)

	transfer := call(t, Signed(alice), CallBankTransfer, TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "5"})
	block := Block{
		Number:     1,
		Timestamp:  uint64(genesisAt.UnixMilli()) + blockMillis,
		Author:     validator,
		Extrinsics: []Extrinsic{transfer},
	}
	digest := rt.Head().StateDigest

	db.fail = true
	_, err = rt.ExecuteBlock(context.Background(), block)
	require.ErrorIs(t, err, errDiskFull)
	require.Equal(t, uint64(0), rt.Head().Number)
	require.Equal(t, uint64(0), balance(t, rt, types.NativeAsset, bob))

	reopened, err := New(db.MemDB, testConfig())
	require.NoError(t, err)
	require.Equal(t, uint64(0), reopened.Head().Number)
	require.Equal(t, digest, reopened.Head().StateDigest)
	require.Equal(t, uint64(0), balance(t, reopened, types.NativeAsset, bob))

	db.fail = false
	result, err := rt.ExecuteBlock(context.Background(), block)
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Number)
	require.Equal(t, uint64(5), balance(t, rt, types.NativeAsset, bob))
	require.Equal(t, result.StateDigest, rt.Head().StateDigest)
}
