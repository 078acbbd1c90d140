package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr           string        `env:"API_ADDR" envDefault:":3000"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	JWTSecret      string        `env:"ROADMAP_JWT_SECRET" envDefault:"uppath-dev-secret"`
	TokenTTL       time.Duration `env:"ROADMAP_TOKEN_TTL" envDefault:"168h"`
	CORSOrigin     string        `env:"ROADMAP_CORS_ORIGIN" envDefault:"*"`
	RequestTimeout time.Duration `env:"ROADMAP_REQUEST_TIMEOUT" envDefault:"10s"`

	// Directory of *.up.sql files; the migrations embedded in the binary are used when empty.
	MigrationsDir string `env:"ROADMAP_MIGRATIONS_DIR"`

	// Mutations allowed per second for a single principal.
	WriteRate  float64 `env:"ROADMAP_WRITE_RATE" envDefault:"5"`
	WriteBurst int     `env:"ROADMAP_WRITE_BURST" envDefault:"10"`

	// Redis holds revoked token ids; Postgres is used when empty.
	RedisURL string `env:"REDIS_URL"`

	// OTLP/HTTP endpoint; tracing is disabled when empty.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Admin account created or promoted at startup. Open sign-up never grants admin.
	AdminEmail    string `env:"ROADMAP_ADMIN_EMAIL"`
	AdminPassword string `env:"ROADMAP_ADMIN_PASSWORD"`
	AdminName     string `env:"ROADMAP_ADMIN_NAME" envDefault:"Admin"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AdminEmail = strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	return cfg, nil
}

// HasAdmin reports whether a bootstrap admin account is configured.
func (c Config) HasAdmin() bool {
	return c.AdminEmail != "" && c.AdminPassword != ""
}
