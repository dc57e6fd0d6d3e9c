package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
)

type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"reservation-service"`
	Port        string `envconfig:"PORT" default:"8085"`
	GRPCPort    string `envconfig:"GRPC_PORT" default:"9085"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMigrate   bool   `envconfig:"DB_MIGRATE" default:"false"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:""`
	StatusTTL      time.Duration `envconfig:"STATUS_CACHE_TTL" default:"5m"`
	RateLimit      int           `envconfig:"RATE_LIMIT" default:"60"`
	RateWindow     time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	RateFailOpen   bool          `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	KafkaBrokers   string        `envconfig:"KAFKA_BROKERS" default:""`
	OutboxEvery    time.Duration `envconfig:"OUTBOX_POLL_EVERY" default:"2s"`
	OutboxBatch    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	JWTSecret      string        `envconfig:"JWT_SECRET" required:"true"`
	JWKSURL        string        `envconfig:"JWKS_URL" default:""`
	BodyLimit      int64         `envconfig:"HTTP_BODY_LIMIT" default:"1048576"`
	CORSOrigins    string        `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`

	GatewayBaseURL   string        `envconfig:"MIDTRANS_BASE_URL" default:"https://api.sandbox.midtrans.com"`
	GatewayServerKey string        `envconfig:"MIDTRANS_SERVER_KEY" required:"true"`
	GatewayTimeout   time.Duration `envconfig:"MIDTRANS_TIMEOUT" default:"15s"`
	GopayCallbackURL string        `envconfig:"GOPAY_CALLBACK_URL" default:""`
	PermataRecipient string        `envconfig:"PERMATA_RECIPIENT_NAME" default:"SALONBOOK"`
	PaymentExpiry    int           `envconfig:"PAYMENT_EXPIRY_MINUTES" default:"1440"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5m"`
	PollMinAge   time.Duration `envconfig:"POLL_MIN_AGE" default:"10m"`
	PollBatch    int           `envconfig:"POLL_BATCH_SIZE" default:"50"`

	Timezone     string        `envconfig:"BUSINESS_TIMEZONE" default:"Asia/Jakarta"`
	Open         string        `envconfig:"BUSINESS_OPEN" default:"07:00"`
	Close        string        `envconfig:"BUSINESS_CLOSE" default:"18:00"`
	ClosedDay    string        `envconfig:"BUSINESS_CLOSED_WEEKDAY" default:"Monday"`
	UnitLength   time.Duration `envconfig:"UNIT_LENGTH" default:"1h"`
	OverlapGrace time.Duration `envconfig:"OVERLAP_GRACE" default:"0s"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := config.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BusinessHours resolves the timezone and wall-clock settings.
func (c Config) BusinessHours() (availability.BusinessHours, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return availability.BusinessHours{}, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}
	open, err := parseClock(c.Open)
	if err != nil {
		return availability.BusinessHours{}, fmt.Errorf("BUSINESS_OPEN: %w", err)
	}
	closing, err := parseClock(c.Close)
	if err != nil {
		return availability.BusinessHours{}, fmt.Errorf("BUSINESS_CLOSE: %w", err)
	}
	if closing <= open {
		return availability.BusinessHours{}, fmt.Errorf("BUSINESS_CLOSE must be after BUSINESS_OPEN")
	}
	day, err := parseWeekday(c.ClosedDay)
	if err != nil {
		return availability.BusinessHours{}, fmt.Errorf("BUSINESS_CLOSED_WEEKDAY: %w", err)
	}
	if c.UnitLength <= 0 {
		return availability.BusinessHours{}, fmt.Errorf("UNIT_LENGTH must be positive")
	}
	return availability.BusinessHours{Location: loc, Open: open, Close: closing, ClosedDay: day, Unit: c.UnitLength}, nil
}

// parseClock reads "HH:MM" as an offset from midnight.
func parseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", raw)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseWeekday(raw string) (time.Weekday, error) {
	want := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if want == name || want == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", raw)
}
