// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// 監査ストアのドライバ名
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverRedis    = "redis"
	StoreDriverMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Audit store
	StoreDriver    string `env:"AUDIT_STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH"`
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"authgate:audit:"`

	// Identity provider
	ProviderBaseURL         string        `env:"PROVIDER_BASE_URL" envDefault:"https://dummyjson.com"`
	ProviderTimeout         time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderTokenTTLMinutes int           `env:"PROVIDER_TOKEN_TTL_MINUTES" envDefault:"0"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
	AccessTokenCookie string `env:"ACCESS_TOKEN_COOKIE" envDefault:"accessToken"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load は環境変数からConfigを読み込む。
// ストアドライバごとの必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	var missing []string
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverSQLite:
		if cfg.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case StoreDriverRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported AUDIT_STORE_DRIVER: %q", cfg.StoreDriver)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT must be positive: %s", cfg.ProviderTimeout)
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseLogLevel はLOG_LEVELの値をslog.Levelに変換する。
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
