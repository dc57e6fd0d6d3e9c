package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	"github.com/md-rashed-zaman/salonbook/libs/httpx"
	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/orderpaid"
	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/notification-service/internal/whatsapp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	ServiceName  string `envconfig:"SERVICE_NAME" default:"notification-service"`
	Port         string `envconfig:"PORT" default:"8086"`
	DatabaseURL  string `envconfig:"DATABASE_URL" required:"true"`
	DBMigrate    bool   `envconfig:"DB_MIGRATE" default:"false"`
	KafkaBrokers string `envconfig:"KAFKA_BROKERS" default:""`
	GroupID      string `envconfig:"KAFKA_GROUP_ID" default:"notification-service"`
	Topic        string `envconfig:"KAFKA_CONSUME_TOPIC" default:"reservation.order.paid.v1"`

	Provider      string        `envconfig:"WHATSAPP_PROVIDER" default:"noop"`
	APIURL        string        `envconfig:"WHATSAPP_API_URL" default:"https://graph.facebook.com"`
	APIVersion    string        `envconfig:"WHATSAPP_API_VERSION" default:"v20.0"`
	PhoneNumberID string        `envconfig:"WHATSAPP_PHONE_NUMBER_ID" default:""`
	AccessToken   string        `envconfig:"WHATSAPP_ACCESS_TOKEN" default:""`
	Recipient     string        `envconfig:"WHATSAPP_RECIPIENT" default:""`
	Language      string        `envconfig:"WHATSAPP_TEMPLATE_LANGUAGE" default:"en"`
	SendTimeout   time.Duration `envconfig:"WHATSAPP_TIMEOUT" default:"5s"`
}

func main() {
	_ = godotenv.Load()

	var cfg Config
	if err := config.Process("", &cfg); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

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
	}

	var sender whatsapp.Sender
	switch strings.ToLower(cfg.Provider) {
	case "graph", "webhook":
		sender = whatsapp.NewGraphSender(whatsapp.Config{
			BaseURL:       cfg.APIURL,
			APIVersion:    cfg.APIVersion,
			PhoneNumberID: cfg.PhoneNumberID,
			AccessToken:   cfg.AccessToken,
			Timeout:       cfg.SendTimeout,
		})
	default:
		sender = whatsapp.NewNoopSender()
	}

	handler := orderpaid.NewHandler(sender, storage.NewRepository(pool), cfg.Recipient, cfg.Language, logger)
	eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	}, handler.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
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
