package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// HeaderIdempotencyKey names the client supplied deduplication key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay is set on responses served from the cache.
	HeaderIdempotentReplay = "Idempotent-Replay"

	maxIdempotencyKeyLength = 128
)

// IdempotencyRecord is a cached response. A pending record marks a key whose
// first request is still being handled.
type IdempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	Pending    bool      `json:"pending,omitempty"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IdempotencyStore persists responses by key.
type IdempotencyStore interface {
	// ReserveIdempotency stores pending under key unless a live record
	// already exists, in which case that record is returned with reserved
	// false. The check and the write are atomic.
	ReserveIdempotency(key string, pending IdempotencyRecord, now time.Time) (existing IdempotencyRecord, reserved bool, err error)
	PutIdempotency(key string, record IdempotencyRecord) error
	ReleaseIdempotency(key string) error
}

// pendingIdempotencyTTL bounds how long a reservation survives a request
// that never completes.
const pendingIdempotencyTTL = time.Minute

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key. Keys are scoped to the authenticated account. A repeat
// that arrives while the first request is still running gets 409. Responses
// with a server error status are not stored so the client may retry.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	pendingTTL := min(ttl, pendingIdempotencyTTL)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			if principal, ok := PrincipalFrom(r.Context()); ok {
				key = principal.Account.String() + "/" + key
			}
			now := time.Now().UTC()
			record, reserved, err := store.ReserveIdempotency(key, IdempotencyRecord{
				Pending:   true,
				StoredAt:  now,
				ExpiresAt: now.Add(pendingTTL),
			}, now)
			if err != nil {
				logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}
			if !reserved {
				if record.Pending {
					writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderIdempotentReplay, "true")
				w.WriteHeader(record.StatusCode)
				_, _ = w.Write(record.Body)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				if err := store.ReleaseIdempotency(key); err != nil {
					logger.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", err))
				}
				return
			}
			err = store.PutIdempotency(key, IdempotencyRecord{
				StatusCode: capture.status,
				Body:       capture.body.Bytes(),
				StoredAt:   now,
				ExpiresAt:  now.Add(ttl),
			})
			if err != nil {
				logger.Warn("idempotency store failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
