package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	HTTPAddr       string
	MigrationsPath string

	// Supabase/hosted Postgres convenience:
	// - DATABASE_URL: runtime connection (often PgBouncer/pooler)
	// - DIRECT_URL: direct connection for migrations
	DatabaseURL string
	DirectURL   string

	DB DBConfig

	Telegram TelegramConfig
	Admins   AdminsConfig
	Session  SessionConfig
	Uploads  UploadsConfig

	// RedisAddr enables shared rate-limit counters. Empty keeps counters in process memory.
	RedisAddr     string
	RedisPassword string

	// RateLimitPerMinute applies per client IP to the /v1 API. 0 disables limiting.
	RateLimitPerMinute int

	// CORSAllowedOrigins is the allowlist for browser callers (the mini-app origin), e.g.
	//   https://shop.example.com,http://localhost:5173
	CORSAllowedOrigins []string

	// TrustedProxies lists the load balancers (CIDRs or addresses) whose
	// X-Forwarded-For is believed. Empty means the socket address is the client.
	TrustedProxies []string
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type TelegramConfig struct {
	// BotToken is the shared secret init data is signed with. Required.
	BotToken string

	// InitDataMaxAge bounds how old auth_date may be. 0 disables the check.
	InitDataMaxAge time.Duration

	// AllowedPlatforms narrows clients by X-Telegram-Platform (e.g. "android,ios").
	// Empty allows every platform.
	AllowedPlatforms []string
}

type AdminsConfig struct {
	// IDsFile is the JSON document holding {"admin_ids": [...]}.
	IDsFile string

	// DecisionCacheTTL caches negative IsAdmin answers. 0 disables the cache.
	DecisionCacheTTL time.Duration

	// LookupTimeout bounds each database lookup made during an admin check.
	LookupTimeout time.Duration
}

type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

type UploadsConfig struct {
	Dir       string
	URLSecret string
	URLTTL    time.Duration
}

func (c Config) IsProd() bool {
	return c.AppEnv == "prod" || c.AppEnv == "production"
}

func Load() Config {
	// Convenience for local dev: load variables from .env if present.
	// In production, rely on real environment variables.
	_ = godotenv.Load()

	// Cloud Run sets PORT. Prefer it when HTTP_ADDR isn't explicitly set.
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			httpAddr = ":" + port
		} else {
			httpAddr = ":8081"
		}
	}

	return Config{
		AppEnv:         env("APP_ENV", "dev"),
		HTTPAddr:       httpAddr,
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DirectURL:      os.Getenv("DIRECT_URL"),
		DB: DBConfig{
			Host:     env("DB_HOST", "localhost"),
			Port:     env("DB_PORT", "5432"),
			Name:     env("DB_NAME", "storefront"),
			User:     env("DB_USER", "storefront"),
			Password: env("DB_PASSWORD", "storefront"),
			SSLMode:  env("DB_SSLMODE", "disable"),
		},
		Telegram: TelegramConfig{
			BotToken:         strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
			InitDataMaxAge:   envDuration("TELEGRAM_INIT_DATA_MAX_AGE", 24*time.Hour),
			AllowedPlatforms: envList("TELEGRAM_ALLOWED_PLATFORMS", ""),
		},
		Admins: AdminsConfig{
			IDsFile:          env("ADMIN_IDS_FILE", "config/admins.json"),
			DecisionCacheTTL: envDuration("ADMIN_DECISION_CACHE_TTL", 30*time.Second),
			LookupTimeout:    envDuration("ADMIN_LOOKUP_TIMEOUT", 3*time.Second),
		},
		Session: SessionConfig{
			Secret: os.Getenv("SESSION_SECRET"),
			TTL:    envDuration("SESSION_TTL", 30*24*time.Hour),
		},
		Uploads: UploadsConfig{
			Dir:       env("UPLOADS_DIR", "uploads"),
			URLSecret: os.Getenv("UPLOAD_URL_SECRET"),
			URLTTL:    envDuration("UPLOAD_URL_TTL", time.Hour),
		},
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		TrustedProxies:     envList("TRUSTED_PROXIES", ""),
	}
}

func env(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envDuration accepts Go durations ("90s", "12h") plus a day suffix ("30d").
// A malformed value keeps the fallback.
func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(os.Getenv(key), fallback)
	if err != nil {
		return fallback
	}
	return d
}

func ParseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}

func envList(key, fallbackCSV string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallbackCSV
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
