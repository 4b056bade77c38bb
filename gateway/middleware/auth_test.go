package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakechain/core/types"
)

const secret = "unit-test-secret"

func sign(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthenticatorResolvesPrincipal(t *testing.T) {
	account := types.AccountID{7}
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: secret, Issuer: "stakechain"}, nil)

	var got Principal
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{
		"sub":   account.String(),
		"iss":   "stakechain",
		"scope": "root extra",
		"exp":   time.Now().Add(time.Minute).Unix(),
	}, jwt.SigningMethodHS256, []byte(secret)))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if got.Account != account || !got.Root() {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	account := types.AccountID{7}
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: secret, Issuer: "stakechain"}, nil)
	handler := auth.Middleware(ScopeRoot)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	future := time.Now().Add(time.Minute).Unix()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + sign(t, jwt.MapClaims{"sub": account.String(), "iss": "stakechain", "exp": future}, jwt.SigningMethodHS256, []byte("other")), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": account.String(), "iss": "stakechain", "exp": time.Now().Add(-time.Hour).Unix()}, jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized},
		{"bad subject", "Bearer " + sign(t, jwt.MapClaims{"sub": "alice", "iss": "stakechain", "exp": future}, jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + sign(t, jwt.MapClaims{"sub": account.String(), "iss": "other", "exp": future}, jwt.SigningMethodHS256, []byte(secret)), http.StatusUnauthorized},
		{"missing scope", "Bearer " + sign(t, jwt.MapClaims{"sub": account.String(), "iss": "stakechain", "exp": future}, jwt.SigningMethodHS256, []byte(secret)), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

type memoryIdempotency struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
}

func (m *memoryIdempotency) GetIdempotency(key string, now time.Time) (IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if ok && now.After(rec.ExpiresAt) {
		delete(m.records, key)
		return IdempotencyRecord{}, false, nil
	}
	return rec, ok, nil
}

func (m *memoryIdempotency) PutIdempotency(key string, record IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = record
	return nil
}

func TestIdempotencyReplaysAndSkipsServerErrors(t *testing.T) {
	store := newMemIdempotencyStore()
	hits := 0
	status := http.StatusInternalServerError
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"n":1}`))
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		return res
	}

	send()
	status = http.StatusAccepted
	send()
	if hits != 2 {
		t.Fatalf("server errors must not be cached, hits=%d", hits)
	}
	res := send()
	if hits != 2 || res.Code != http.StatusAccepted || res.Header().Get(HeaderIdempotentReplay) != "true" {
		t.Fatalf("expected cached replay, hits=%d code=%d", hits, res.Code)
	}
	if res.Body.String() != `{"n":1}` {
		t.Fatalf("unexpected replay body %q", res.Body.String())
	}
}
