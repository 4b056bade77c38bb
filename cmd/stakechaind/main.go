package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stakechain/cmd/stakechaind/internal/passphrase"
	"stakechain/config"
	"stakechain/core/genesis"
	"stakechain/core/runtime"
	"stakechain/core/types"
	"stakechain/gateway/middleware"
	"stakechain/gateway/routes"
	"stakechain/gateway/store"
	"stakechain/mempool"
	"stakechain/observability/logging"
	telemetry "stakechain/observability/otel"
	"stakechain/services/indexer"
	"stakechain/storage"
)

const serviceName = "stakechaind"

type options struct {
	configPath       string
	genesisPath      string
	promptPassphrase bool
	exportEvents     string
	exportType       string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "./config.toml", "path to the node configuration")
	flag.StringVar(&opts.genesisPath, "genesis", "", "genesis file applied on first start (overrides GenesisFile)")
	flag.BoolVar(&opts.promptPassphrase, "prompt-passphrase", false, "read the keystore passphrase from "+config.EnvKeystorePassphrase+" or prompt for it")
	flag.StringVar(&opts.exportEvents, "export-events", "", "write indexed events to this Parquet file and exit")
	flag.StringVar(&opts.exportType, "export-type", "", "only export events of this type")
	flag.Parse()

	if err := run(opts); err != nil {
		slog.Error("stakechaind exited", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	passphraseFn := config.EnvPassphrase
	if opts.promptPassphrase {
		passphraseFn = passphrase.NewSource(config.EnvKeystorePassphrase).Get
	}
	cfg, err := config.LoadWithPassphrase(opts.configPath, passphraseFn)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfgPath := opts.configPath

	logger, logCloser := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()
	logger.Info("configuration loaded",
		"config", cfgPath,
		"data_dir", cfg.DataDir,
		"listen", cfg.Gateway.ListenAddress,
		logging.Redact("hmac_secret", cfg.Gateway.Auth.HMACSecret),
		logging.Redact("dsn", cfg.IndexerDSN()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.exportEvents != "" {
		return exportEvents(ctx, cfg, opts.exportEvents, opts.exportType, logger)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}.ApplyEnv())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	key, err := cfg.NodeKey()
	if err != nil {
		return fmt.Errorf("load validator key: %w", err)
	}
	var author types.AccountID
	copy(author[:], key.PubKey().Address().Bytes())
	logger.Info("validator key loaded", "author", author.String())

	db, err := storage.NewLevelDB(cfg.ChainDir())
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}
	defer db.Close()

	rtCfg, err := cfg.Runtime(logger.With("component", "runtime"))
	if err != nil {
		return fmt.Errorf("runtime config: %w", err)
	}
	rt, err := runtime.New(db, rtCfg)
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	if err := ensureGenesis(rt, cfg, opts.genesisPath, logger); err != nil {
		return err
	}

	pool := mempool.NewPool(cfg.Mempool.Capacity, mempool.RootQuota{ReservationBPS: cfg.Mempool.RootReservationBPS})
	hub := routes.NewEventHub(logger.With("component", "events"))
	rt.AddListener(hub)

	var wg sync.WaitGroup

	var eventLog routes.EventLog
	if cfg.Indexer.Enabled {
		ix, err := indexer.Open(cfg.Indexer.Driver, cfg.IndexerDSN(), logger.With("component", "indexer"))
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		defer ix.Close()
		rt.AddListener(ix)
		eventLog = ix
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ix.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("indexer stopped", "error", err)
			}
		}()
	}

	idem, err := store.Open(cfg.IdempotencyStorePath(), nil)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()
	wg.Add(1)
	go func() {
		defer wg.Done()
		pruneIdempotency(ctx, idem, cfg.Gateway.IdempotencyTTL, logger)
	}()

	limits := make(map[string]middleware.RateLimit, len(cfg.Gateway.RateLimits))
	for key, limit := range cfg.Gateway.RateLimits {
		limits[key] = middleware.RateLimit{RequestsPerMinute: float64(limit.RequestsPerMinute), Burst: limit.Burst}
	}
	gatewayLogger := logger.With("component", "gateway")
	handler := routes.New(routes.Config{
		Chain:  rt,
		Pool:   pool,
		Hub:    hub,
		Events: eventLog,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Gateway.Auth.Enabled,
			HMACSecret: cfg.Gateway.Auth.HMACSecret,
			Issuer:     cfg.Gateway.Auth.Issuer,
			Audience:   cfg.Gateway.Auth.Audience,
			ScopeClaim: cfg.Gateway.Auth.ScopeClaim,
			ClockSkew:  cfg.Gateway.Auth.ClockSkew,
		}, gatewayLogger),
		RateLimiter: middleware.NewRateLimiter(limits, gatewayLogger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: cfg.Gateway.LogRequests,
			Enabled:     true,
		}, gatewayLogger),
		Idempotency:    idem,
		IdempotencyTTL: cfg.Gateway.IdempotencyTTL,
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.Gateway.AllowedOrigins},
		Logger:         gatewayLogger,
	})
	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Gateway.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	producer := runtime.NewProducer(rt, pool, author, cfg.Chain.BlockTime, cfg.Chain.MaxCallsPerBlock, logger.With("component", "producer"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := producer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("block producer stopped", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("gateway: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	wg.Wait()
	if head := rt.Head(); head != nil {
		logger.Info("stopped", "height", head.Number)
	}
	return runErr
}

// ensureGenesis applies the genesis file on an empty database.
func ensureGenesis(rt *runtime.Runtime, cfg *config.Config, override string, logger *slog.Logger) error {
	if rt.Head() != nil {
		return nil
	}
	path := override
	if path == "" {
		path = cfg.GenesisFile
	}
	if path == "" {
		return errors.New("empty chain database and no genesis file configured")
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	result, err := rt.InitGenesis(spec)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("genesis applied",
		"file", path,
		"state_digest", fmt.Sprintf("%x", result.StateDigest),
		"events", len(result.Events))
	return nil
}

func pruneIdempotency(ctx context.Context, idem *store.Store, ttl time.Duration, logger *slog.Logger) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := idem.Prune(now)
			if err != nil {
				logger.Warn("prune idempotency records", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("pruned idempotency records", "removed", removed)
			}
		}
	}
}

func exportEvents(ctx context.Context, cfg *config.Config, path, eventType string, logger *slog.Logger) error {
	if !cfg.Indexer.Enabled {
		return errors.New("export requires the indexer to be enabled")
	}
	ix, err := indexer.Open(cfg.Indexer.Driver, cfg.IndexerDSN(), logger.With("component", "indexer"))
	if err != nil {
		return fmt.Errorf("open indexer: %w", err)
	}
	defer ix.Close()
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := ix.ExportParquet(ctx, out, indexer.Filter{Type: eventType})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("export events: %w", err)
	}
	logger.Info("events exported", "file", path, "rows", n)
	return nil
}
