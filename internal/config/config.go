package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	OTLPEndpoint string

	PaymentAPIURL  string
	PaymentAPIKey  string
	PaymentTimeout time.Duration

	PlaceCacheTTL  time.Duration
	IdempotencyTTL time.Duration

	RateLimitPerUser int
	RateLimitPerIP   int
	RateLimitWindow  time.Duration

	LogLevel string
	LogFile  string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	RefundQueue        string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     envStr("HTTP_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      envStr("MONGO_DB", "stays"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		PaymentAPIURL:  envStr("PAYMENT_API_URL", "https://api.stripe.com"),
		PaymentAPIKey:  os.Getenv("PAYMENT_API_KEY"),
		PaymentTimeout: envDur("PAYMENT_TIMEOUT", 10*time.Second),

		PlaceCacheTTL:  envDur("PLACE_CACHE_TTL", 30*time.Second),
		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 24*time.Hour),

		RateLimitPerUser: envInt("RATE_LIMIT_PER_USER", 30),
		RateLimitPerIP:   envInt("RATE_LIMIT_PER_IP", 300),
		RateLimitWindow:  envDur("RATE_LIMIT_WINDOW", time.Minute),

		LogLevel: envStr("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),

		OutboxPollInterval: envDur("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:    envInt("OUTBOX_BATCH_SIZE", 50),
		RefundQueue:        envStr("REFUND_QUEUE", "stay.refunds"),
	}, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
		return dur
	}
	return d
}
