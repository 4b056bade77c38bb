package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"stakechain/core/genesis"
	"stakechain/core/runtime"
	"stakechain/core/types"
	"stakechain/gateway/middleware"
	"stakechain/gateway/store"
	"stakechain/mempool"
	"stakechain/services/indexer"
	"stakechain/storage"
)

const testSecret = "gateway-test-secret"

var (
	alice = types.AccountID{0xa1}
	bob   = types.AccountID{0xb0}
)

type harness struct {
	rt      *runtime.Runtime
	pool    *mempool.Pool
	hub     *EventHub
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rt, err := runtime.New(storage.NewMemDB(), runtime.DefaultConfig())
	require.NoError(t, err)
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		Balances: []genesis.BalanceSpec{
			{Account: alice.String(), Asset: 0, Amount: "1000"},
			{Account: alice.String(), Asset: 7, Amount: "25"},
		},
		DexAssets: []uint32{7},
	}
	require.NoError(t, spec.Validate())
	_, err = rt.InitGenesis(spec)
	require.NoError(t, err)

	idem, err := store.Open(filepath.Join(t.TempDir(), "idem.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	pool := mempool.NewPool(16, mempool.RootQuota{}.WithDefault())
	hub := NewEventHub(nil)
	handler := New(Config{
		Chain:         rt,
		Pool:          pool,
		Hub:           hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil),
		Idempotency:   idem,
	})
	return &harness{rt: rt, pool: pool, hub: hub, handler: handler}
}

func token(t *testing.T, sub string, scopes ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, bearer string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res := httptest.NewRecorder()
	h.handler.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t)
	res := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "ok", res.Body.String())
	require.NotEmpty(t, res.Header().Get(middleware.HeaderRequestID))

	const id = "3f0b9c52-5c2f-4a55-9d0e-6f3f5b1f2d10"
	res = h.do(t, http.MethodGet, "/healthz", "", nil, middleware.HeaderRequestID, id)
	require.Equal(t, id, res.Header().Get(middleware.HeaderRequestID))
}

func TestQueryRoutes(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodGet, "/v1/balances/"+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "1000", decode(t, res)["balance"])

	res = h.do(t, http.MethodGet, "/v1/balances/"+alice.String()+"?asset=7", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "25", decode(t, res)["balance"])

	res = h.do(t, http.MethodGet, "/v1/balances/not-an-account", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(t, http.MethodGet, "/v1/inflation", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "16%", decode(t, res)["inflationPercent"])

	res = h.do(t, http.MethodGet, "/v1/session", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.EqualValues(t, 1, decode(t, res)["session"])

	res = h.do(t, http.MethodGet, "/v1/dex/tokens", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"tokens":[7]}`, res.Body.String())

	res = h.do(t, http.MethodGet, "/v1/dex/orders/0", "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(t, http.MethodGet, "/v1/dex/pairs/0/7/orders", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"orders":[]}`, res.Body.String())

	res = h.do(t, http.MethodGet, "/v1/dex/accounts/"+alice.String()+"/tokens/7", "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(t, http.MethodGet, "/v1/staking/"+alice.String(), "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestSubmitCallRequiresToken(t *testing.T) {
	h := newHarness(t)
	body := map[string]interface{}{"call": runtime.CallBankTransfer, "args": map[string]interface{}{"to": bob.String(), "asset": 0, "amount": "5"}}

	res := h.do(t, http.MethodPost, "/v1/calls", "", body)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(t, http.MethodPost, "/v1/calls", "garbage", body)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Zero(t, h.pool.Len())

	res = h.do(t, http.MethodPost, "/v1/calls", token(t, alice.String()), body)
	require.Equal(t, http.StatusAccepted, res.Code)
	require.Equal(t, alice.String(), decode(t, res)["origin"])

	batch := h.pool.Drain(10)
	require.Len(t, batch, 1)
	require.Equal(t, runtime.Signed(alice), batch[0].Origin)

	result, err := h.rt.ExecuteBlock(context.Background(), runtime.Block{
		Number:     1,
		Timestamp:  uint64(time.Date(2024, 1, 1, 0, 0, 6, 0, time.UTC).UnixMilli()),
		Extrinsics: batch,
	})
	require.NoError(t, err)
	require.True(t, result.Receipts[0].Success(), result.Receipts[0].Error)
	balance, err := h.rt.Balance(types.NativeAsset, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(5), balance.Uint64())
}

func TestSubmitPrivilegedCall(t *testing.T) {
	h := newHarness(t)
	body := map[string]interface{}{"call": runtime.CallChangeInflation, "args": map[string]string{"value": "10%"}}

	res := h.do(t, http.MethodPost, "/v1/calls", token(t, alice.String()), body)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(t, http.MethodPost, "/v1/calls", token(t, alice.String(), middleware.ScopeRoot), body)
	require.Equal(t, http.StatusAccepted, res.Code)
	require.Equal(t, "root", decode(t, res)["origin"])

	res = h.do(t, http.MethodPost, "/v1/calls", token(t, alice.String()), map[string]string{"call": "bank.mint"})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, 1, h.pool.Len())
}

func TestSubmitCallIdempotency(t *testing.T) {
	h := newHarness(t)
	body := map[string]interface{}{"call": runtime.CallStakingChill}
	bearer := token(t, alice.String())

	first := h.do(t, http.MethodPost, "/v1/calls", bearer, body, middleware.HeaderIdempotencyKey, "retry-1")
	require.Equal(t, http.StatusAccepted, first.Code)
	second := h.do(t, http.MethodPost, "/v1/calls", bearer, body, middleware.HeaderIdempotencyKey, "retry-1")
	require.Equal(t, http.StatusAccepted, second.Code)
	require.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotentReplay))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, h.pool.Len())

	// The same key from another account is a different request.
	other := h.do(t, http.MethodPost, "/v1/calls", token(t, bob.String()), body, middleware.HeaderIdempotencyKey, "retry-1")
	require.Equal(t, http.StatusAccepted, other.Code)
	require.Empty(t, other.Header().Get(middleware.HeaderIdempotentReplay))
	require.Equal(t, 2, h.pool.Len())
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)
	h.rt.AddListener(h.hub)
	server := httptest.NewServer(h.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events/ws?types=bank.transfer"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	call, err := runtime.NewCall(runtime.CallBankTransfer, runtime.TransferArgs{To: bob, Asset: types.NativeAsset, Amount: "3"})
	require.NoError(t, err)
	_, err = h.rt.ExecuteBlock(ctx, runtime.Block{
		Number:     1,
		Timestamp:  uint64(time.Date(2024, 1, 1, 0, 0, 6, 0, time.UTC).UnixMilli()),
		Extrinsics: []runtime.Extrinsic{{Origin: runtime.Signed(alice), Call: call}},
	})
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg BlockMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, uint64(1), msg.Height)
	require.NotEmpty(t, msg.Events)
	for _, evt := range msg.Events {
		require.Equal(t, "bank.transfer", evt.Type)
	}
}

func TestEventsRoute(t *testing.T) {
	rt, err := runtime.New(storage.NewMemDB(), runtime.DefaultConfig())
	require.NoError(t, err)
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		Balances:    []genesis.BalanceSpec{{Account: alice.String(), Asset: 0, Amount: "10"}},
	}
	require.NoError(t, spec.Validate())

	ix, err := indexer.Open(indexer.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	defer ix.Close()
	genesisResult, err := rt.InitGenesis(spec)
	require.NoError(t, err)
	require.NoError(t, ix.Record(genesisResult))

	handler := New(Config{Chain: rt, Pool: mempool.NewPool(0, mempool.RootQuota{}), Events: ix})
	req := httptest.NewRequest(http.MethodGet, "/v1/events?type=bank.minted&limit=5", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Events []indexer.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.NotEmpty(t, body.Events)
	require.Equal(t, "bank.minted", body.Events[0].Type)

	req = httptest.NewRequest(http.MethodGet, "/v1/events?from=abc", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
}
