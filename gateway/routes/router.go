package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakechain/core/runtime"
	"stakechain/core/types"
	"stakechain/gateway/middleware"
	"stakechain/native/dex"
	"stakechain/native/inflation"
	"stakechain/services/indexer"
)

// Chain is the read side of the runtime the gateway serves.
type Chain interface {
	Head() *types.BlockHeader
	Balance(asset types.AssetID, account types.AccountID) (*uint256.Int, error)
	InflationParams() (inflation.Params, error)
	Session() (runtime.SessionInfo, error)
	Stake(stash types.AccountID) (*runtime.StakeInfo, bool, error)
	Order(id uint64) (*dex.Order, bool, error)
	OrdersByPair(a, b types.AssetID) ([]*dex.Order, error)
	OrdersByUser(account types.AccountID) ([]*dex.Order, error)
	TokenInfo(account types.AccountID, asset types.AssetID) (dex.TokenInfo, bool, error)
	ListedTokens() ([]types.AssetID, error)
}

// Submitter queues extrinsics for the next block.
type Submitter interface {
	Add(ext runtime.Extrinsic) error
	Len() int
}

// EventLog serves indexed history.
type EventLog interface {
	List(ctx context.Context, filter indexer.Filter) ([]indexer.Event, error)
}

// RateLimit keys.
const (
	LimitQuery = "query"
	LimitCalls = "calls"
)

type Config struct {
	Chain          Chain
	Pool           Submitter
	Hub            *EventHub
	Events         EventLog
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	Idempotency    middleware.IdempotencyStore
	IdempotencyTTL time.Duration
	CORS           middleware.CORSConfig
	Logger         *slog.Logger
}

// New builds the gateway handler.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := &api{chain: cfg.Chain, pool: cfg.Pool, events: cfg.Events, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	use := func(sr chi.Router, route, limitKey string) {
		if cfg.RateLimiter != nil && limitKey != "" {
			sr.Use(cfg.RateLimiter.Middleware(limitKey))
		}
		if obs != nil {
			sr.Use(obs.Middleware(route))
		}
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			use(q, "query", LimitQuery)
			q.Get("/head", api.head)
			q.Get("/inflation", api.inflation)
			q.Get("/session", api.session)
			q.Get("/balances/{account}", api.balance)
			q.Get("/staking/{stash}", api.stake)
			q.Get("/dex/tokens", api.listedTokens)
			q.Get("/dex/orders/{id}", api.order)
			q.Get("/dex/pairs/{a}/{b}/orders", api.ordersByPair)
			q.Get("/dex/accounts/{account}/orders", api.ordersByUser)
			q.Get("/dex/accounts/{account}/tokens/{asset}", api.tokenInfo)
			if cfg.Events != nil {
				q.Get("/events", api.listEvents)
			}
		})
		v1.Group(func(c chi.Router) {
			use(c, "calls", LimitCalls)
			if cfg.Authenticator != nil {
				c.Use(cfg.Authenticator.Middleware())
			}
			c.Use(middleware.Idempotency(cfg.Idempotency, cfg.IdempotencyTTL, logger))
			c.Post("/calls", api.submit)
		})
		if cfg.Hub != nil {
			v1.Get("/events/ws", cfg.Hub.ServeHTTP)
		}
	})

	return otelhttp.NewHandler(r, "gateway",
		otelhttp.WithFilter(func(req *http.Request) bool { return req.URL.Path != "/healthz" }))
}
