package vcode

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the vcoded service.
type Config struct {
	Addr           string   `env:"ADDR,default=:8080"`
	DBDSN          string   `env:"DB_DSN,required"`
	NATSURL        string   `env:"NATS_URL"`
	RedisAddr      string   `env:"REDIS_ADDR"`
	PublicBaseURL  string   `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	DocumentBucket string   `env:"DOCUMENT_BUCKET"`
	AttestKey      string   `env:"VCODE_ATTEST_SECRET_KEY"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	RateLimit      int      `env:"RATE_LIMIT,default=120"`
}

// LoadConfig returns a Config populated from environment variables.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
