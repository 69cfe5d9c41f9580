// Package app wires configuration, storage, the checkout service and the
// HTTP server together.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-discounts/internal/domain/auth"
	"github.com/xenking/kart-discounts/internal/domain/checkout"
	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/handler"
	"github.com/xenking/kart-discounts/internal/storage/cache"
	"github.com/xenking/kart-discounts/internal/storage/codefilter"
	"github.com/xenking/kart-discounts/internal/storage/postgres"
	"github.com/xenking/kart-discounts/pkg/health"
	"github.com/xenking/kart-discounts/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ctx = zctx.Base(ctx, lg)
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", health.Options{Timeout: 5 * time.Second}, health.PingCheck(pool))
	healthSvc.Register(health.Liveness, "goroutines", health.Options{}, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	usageRepo := postgres.NewUsageRepository(pool)
	ledger := postgres.NewLedger(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Rule lookups: bloom filter -> Redis -> Postgres.
	var rules coupon.Repository = couponRepo
	if cfg.Redis.Addr != "" {
		rdb, err := newRedis(cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.Register(health.Readiness, "redis", health.Options{Optional: true}, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		rules = cache.NewRules(rdb, rules, cfg.Redis.CacheTTL)
		lg.Info("Rule cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL))
	}

	var filter *codefilter.Filter
	if cfg.CodeFilter.Enabled {
		filter = codefilter.New(rules, couponRepo, cfg.CodeFilter.Capacity, cfg.CodeFilter.FalsePositive)
		if err := filter.Refresh(ctx); err != nil {
			lg.Warn("Initial code filter build failed, lookups pass through", zap.Error(err))
		}
		rules = filter
	}

	svc, err := checkout.NewService(productRepo, rules, usageRepo, ledger, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	limit := httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})
	mux := routes(healthSvc, handler.NewHandler(svc), apikeyRepo, []byte(cfg.APIKeyPepper), limit)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("discount-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	if filter != nil {
		g.Go(func() error {
			return filter.Run(gctx, cfg.CodeFilter.Refresh)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		defer healthSvc.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// routes registers the probes and the checkout API. Every API route is rate
// limited and requires a key with the route's scope.
func routes(hs *health.Health, h *handler.Handler, keys auth.Repository, pepper []byte, limit httpmiddleware.Middleware) *http.ServeMux {
	api := func(scope string, fn http.HandlerFunc) http.Handler {
		return httpmiddleware.Wrap(fn, limit, httpmiddleware.APIKey(keys, pepper, scope))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", hs.LiveEndpoint)
	mux.HandleFunc("GET /readyz", hs.ReadyEndpoint)
	mux.Handle("POST /api/checkout/preview", api(auth.ScopePreview, h.Preview))
	mux.Handle("POST /api/checkout/commit", api(auth.ScopeCommit, h.Commit))
	return mux
}

// newRedis accepts either host:port or a redis:// URL, as provided by
// hosting platforms in REDIS_URL.
func newRedis(cfg RedisConfig) (*redis.Client, error) {
	if strings.Contains(cfg.Addr, "://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
