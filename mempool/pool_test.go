package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stakechain/core/runtime"
	"stakechain/core/types"
)

func signed(b byte, name string) runtime.Extrinsic {
	return runtime.Extrinsic{Origin: runtime.Signed(types.AccountID{b}), Call: runtime.Call{Name: name}}
}

func root(name string) runtime.Extrinsic {
	return runtime.Extrinsic{Origin: runtime.RootOrigin(), Call: runtime.Call{Name: name}}
}

func TestRootQuotaReservedSlots(t *testing.T) {
	cases := []struct {
		bps      uint32
		maxCalls int
		want     int
	}{
		{0, 10, 0},
		{1_000, 10, 1},
		{1_000, 11, 2},
		{2_500, 8, 2},
		{20_000, 5, 5},
		{1_000, 0, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, RootQuota{ReservationBPS: tc.bps}.ReservedSlots(tc.maxCalls), "bps=%d max=%d", tc.bps, tc.maxCalls)
	}
	require.Equal(t, uint32(DefaultRootReservationBPS), RootQuota{}.WithDefault().ReservationBPS)
	require.Equal(t, uint32(500), RootQuota{ReservationBPS: 500}.WithDefault().ReservationBPS)
}

func TestScheduleHonoursReservation(t *testing.T) {
	lanes := Classify([]runtime.Extrinsic{
		signed(1, "bank.transfer"),
		signed(2, "dex.make_order"),
		root("inflation.change_inflation"),
		signed(3, "bank.transfer"),
		root("dex.list_token"),
	})
	require.Len(t, lanes.Root, 2)
	require.Len(t, lanes.Signed, 3)

	ordered, usage := Schedule(lanes, 3, RootQuota{ReservationBPS: 3_000})
	require.Len(t, ordered, 5)
	require.Equal(t, "inflation.change_inflation", ordered[0].Call.Name)
	require.Equal(t, "bank.transfer", ordered[1].Call.Name)
	require.Equal(t, "dex.make_order", ordered[2].Call.Name)
	require.Equal(t, 1, usage.Target)
	require.Equal(t, 1, usage.Used)
	require.Equal(t, 2, usage.TotalRoot)
	require.Equal(t, map[string]int{"bank": 2, "dex": 1}, usage.SignedByDomain)
}

func TestScheduleBackfillsUnusedSlots(t *testing.T) {
	lanes := Classify([]runtime.Extrinsic{root("a.x"), root("a.y"), root("a.z"), signed(1, "bank.transfer")})
	ordered, usage := Schedule(lanes, 3, RootQuota{ReservationBPS: 1_000})
	require.Equal(t, 1, usage.Target)
	require.Equal(t, 2, usage.Used)
	require.Equal(t, []string{"a.x", "a.y", "bank.transfer", "a.z"}, names(ordered))
}

func TestPoolDrain(t *testing.T) {
	pool := NewPool(3, RootQuota{ReservationBPS: 5_000})
	require.ErrorIs(t, pool.Add(signed(1, " ")), ErrEmptyCall)
	require.NoError(t, pool.Add(signed(1, "bank.transfer")))
	require.NoError(t, pool.Add(signed(2, "bank.transfer")))
	require.NoError(t, pool.Add(root("dex.list_token")))
	require.ErrorIs(t, pool.Add(signed(3, "bank.transfer")), ErrPoolFull)

	batch := pool.Drain(2)
	require.Equal(t, []string{"dex.list_token", "bank.transfer"}, names(batch))
	require.Equal(t, types.AccountID{1}, batch[1].Origin.Account)
	require.Equal(t, 1, pool.Len())
	require.Equal(t, 1, pool.LastUsage().Used)

	rest := pool.Drain(0)
	require.Len(t, rest, 1)
	require.Equal(t, types.AccountID{2}, rest[0].Origin.Account)
	require.Zero(t, pool.Len())
	require.Nil(t, pool.Drain(10))
}

func TestPoolRequeueRestoresOrder(t *testing.T) {
	pool := NewPool(2, RootQuota{})
	require.NoError(t, pool.Add(signed(1, "bank.transfer")))
	require.NoError(t, pool.Add(signed(2, "staking.bond")))

	batch := pool.Drain(1)
	require.Equal(t, []string{"bank.transfer"}, names(batch))
	require.NoError(t, pool.Add(signed(3, "dex.deposit")))

	pool.Requeue(batch)
	require.Equal(t, 3, pool.Len())
	require.Equal(t, []string{"bank.transfer", "staking.bond", "dex.deposit"}, names(pool.Drain(0)))
}

func names(exts []runtime.Extrinsic) []string {
	out := make([]string, len(exts))
	for i, ext := range exts {
		out[i] = ext.Call.Name
	}
	return out
}
