package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver      string
	DBDSN         string
	DBAutoMigrate bool

	AuthHMACSecret string

	// SiteID tags event log rows written by this node.
	SiteID string

	// RedisURL selects the statistics cache backend; empty keeps it in process.
	RedisURL      string
	StatsCacheTTL time.Duration

	RequestTimeout time.Duration

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	DefaultLocale string

	LogLevel  string
	LogFormat string // text|json
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:               mode,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		DBAutoMigrate:      envBool("DB_AUTO_MIGRATE", true),
		AuthHMACSecret:     envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		SiteID:             envOr("SITE_ID", "local"),
		RedisURL:           os.Getenv("REDIS_URL"),
		StatsCacheTTL:      envDuration("STATS_CACHE_TTL", 30*time.Second),
		RequestTimeout:     envDuration("REQUEST_TIMEOUT", 30*time.Second),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://lms.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010"),
		DefaultLocale:      envOr("DEFAULT_LOCALE", "en"),
		LogLevel:           strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(envOr("LOG_FORMAT", "text")),
	}
}

// CORSOrigins returns the origin allow-list for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
