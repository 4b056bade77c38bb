package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"calls": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	handler := limiter.Middleware("calls")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutesAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"calls": {RequestsPerMinute: 60, Burst: 1},
		"query": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	calls := limiter.Middleware("calls")(okHandler())
	query := limiter.Middleware("query")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	for name, handler := range map[string]http.Handler{"calls": calls, "query": query} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected first %s request to succeed, got %d", name, res.Code)
		}
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.2, 172.16.0.1")
	res := httptest.NewRecorder()
	calls.ServeHTTP(res, other)
	if res.Code != http.StatusOK {
		t.Fatalf("expected a different client to have its own bucket, got %d", res.Code)
	}
}

func TestRateLimiterRefillsAndEvicts(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"calls": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("calls")(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", nil)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, res.Code)
		}
	}

	now = now.Add(2 * time.Second)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected bucket to refill, got %d", res.Code)
	}

	now = now.Add(10 * time.Minute)
	limiter.Middleware("calls")(okHandler()).ServeHTTP(httptest.NewRecorder(), req)
	if got := len(limiter.visitors); got != 1 {
		t.Fatalf("expected idle visitors to be evicted, have %d", got)
	}
}

func TestRateLimiterIgnoresUnknownKeys(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("missing")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected unlimited route, got %d", res.Code)
		}
	}
}
