package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/salonbook/libs/auth"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/libs/grpcx"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/admin"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/billing"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/cart"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/checkout"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/handlers"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/lifecycle"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/notify"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/outbox"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/settlement"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/statuscache"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)
	hours, err := cfg.BusinessHours()
	if err != nil {
		logger.Error("invalid business hours", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()
	if cfg.DBMigrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "err", err)
			panic(err)
		}
		logger.Info("migrations applied")
	}
	store := storage.NewPostgres(pool)
	m := metrics.New(cfg.ServiceName)

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	var (
		cache   statuscache.Cache = statuscache.Noop{}
		limiter httpx.Limiter     = httpx.NewMemoryRateLimiter(cfg.RateLimit, cfg.RateWindow)
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		cache = statuscache.NewRedis(rdb, cfg.StatusTTL)
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateWindow, "salonbook:ratelimit")
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		logger.Warn("REDIS_ADDR not set; status cache disabled and rate limits are per instance")
	}

	var (
		notifier     notify.Notifier = notify.Noop{}
		outboxWriter outbox.MessageWriter
	)
	if cfg.KafkaBrokers != "" {
		writer := kafkax.NewWriter(cfg.KafkaBrokers, "")
		defer func() { _ = writer.Close() }()
		notifier = notify.NewKafkaNotifier(writer, logger)
		outboxWriter = writer
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; paid notifications and status events are not published")
	}

	eval := availability.NewEvaluator(availability.Config{Hours: hours, OverlapGrace: cfg.OverlapGrace, Now: time.Now})
	machine := lifecycle.NewMachine(logger, time.Now)
	coordinator := checkout.NewCoordinator(store, eval, logger, m)
	gw := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.GatewayBaseURL,
		ServerKey: cfg.GatewayServerKey,
		Timeout:   cfg.GatewayTimeout,
	}, m)

	reconciler := settlement.NewReconciler(store, machine, notifier, cache, logger, m, settlement.Config{
		ServerKey: cfg.GatewayServerKey,
		Hours:     hours,
		Now:       time.Now,
	})
	poller := settlement.NewPoller(store, gw, reconciler, settlement.NewPgLeader(pool, 0), logger, settlement.PollerConfig{
		Interval:  cfg.PollInterval,
		MinAge:    cfg.PollMinAge,
		BatchSize: cfg.PollBatch,
	})
	go poller.Run(ctx)

	publisher := outbox.NewPublisher(store, outboxWriter, logger, m, outbox.PublisherConfig{
		PollEvery: cfg.OutboxEvery,
		BatchSize: cfg.OutboxBatch,
	})
	go publisher.Run(ctx)

	api := handlers.NewAPI(handlers.Deps{
		Store:     store,
		Evaluator: eval,
		Cart:      cart.NewService(store, eval, logger, time.Now),
		Billing: billing.NewService(store, coordinator, eval, machine, gw, cache, logger, billing.Config{
			GopayCallbackURL: cfg.GopayCallbackURL,
			PermataRecipient: cfg.PermataRecipient,
			ExpiryMinutes:    cfg.PaymentExpiry,
			Now:              time.Now,
		}),
		Admin:      admin.NewService(store, eval, coordinator, machine, gw, poller, cache, logger, time.Now),
		Reconciler: reconciler,
		Poller:     poller,
		Cache:      cache,
		Logger:     logger,
		Now:        time.Now,
	})

	verifier := auth.Verifier{Secret: cfg.JWTSecret}
	if cfg.JWKSURL != "" {
		verifier.JWKS = auth.NewJWKSClient(cfg.JWKSURL, 10*time.Minute)
	}

	health := grpcx.NewHealthServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc health server error", "err", err)
		}
	}()
	go health.WatchReady(ctx, cfg.ServiceName, 5*time.Second, db.ReadyCheck(pool))
	defer health.Stop()

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/api/", api.Router(handlers.RouterConfig{
		Verifier:  verifier,
		Metrics:   m,
		Limiter:   limiter,
		FailOpen:  cfg.RateFailOpen,
		BodyLimit: cfg.BodyLimit,
	}))

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: httpx.ParseList(cfg.CORSOrigins),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "reservation")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
