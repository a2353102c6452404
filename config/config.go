package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SessionLifetime is how long a session stays valid after sign-in.
// Activity does not extend it.
const SessionLifetime = 30 * 24 * time.Hour

// CacheBackend names the session cache implementation.
type CacheBackend string

const (
	CacheRedis    CacheBackend = "redis"
	CacheDatabase CacheBackend = "database"
	CacheMemory   CacheBackend = "memory"
)

var ErrUnknownCacheBackend = errors.New("unknown cache backend")

type Config struct {
	// Server configuration
	Port        string
	LogLevel    slog.Level
	CORSOrigins string

	// Relational store configuration
	DatabaseDriver string
	DatabaseURL    string
	DatabaseLog    bool

	// Session cache configuration, resolved once in Load
	CacheBackend     CacheBackend
	RedisURL         string
	MemoryCacheBytes int

	// Notification store configuration (optional)
	MongoURI     string
	DatabaseName string

	// Session configuration
	SessionCookieName      string
	CookieSecure           bool
	SweepInterval          time.Duration
	LoginAttemptsPerMinute int
}

// LoadConfig reads .env (if any) and the environment into a Config.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}
	return Load(viper.New())
}

// Load builds a Config from v. Environment variables override defaults.
func Load(v *viper.Viper) (*Config, error) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", "http://localhost:5173, http://localhost:3000")
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_url", "cubis.db")
	v.SetDefault("database_log", false)
	v.SetDefault("cache_backend", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_database", false)
	v.SetDefault("memory_cache_bytes", 32*1024*1024)
	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_db_name", "cubis_academy")
	v.SetDefault("session_cookie_name", "session")
	v.SetDefault("cookie_secure", false)
	v.SetDefault("sweep_interval", time.Hour)
	v.SetDefault("login_attempts_per_minute", 10)
	v.AutomaticEnv()

	backend, err := ResolveCacheBackend(
		v.GetString("cache_backend"),
		v.GetString("redis_url"),
		v.GetBool("cache_database"),
	)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                   v.GetString("port"),
		LogLevel:               parseLevel(v.GetString("log_level")),
		CORSOrigins:            v.GetString("cors_origins"),
		DatabaseDriver:         strings.ToLower(v.GetString("database_driver")),
		DatabaseURL:            v.GetString("database_url"),
		DatabaseLog:            v.GetBool("database_log"),
		CacheBackend:           backend,
		RedisURL:               v.GetString("redis_url"),
		MemoryCacheBytes:       v.GetInt("memory_cache_bytes"),
		MongoURI:               v.GetString("mongo_uri"),
		DatabaseName:           v.GetString("mongo_db_name"),
		SessionCookieName:      v.GetString("session_cookie_name"),
		CookieSecure:           v.GetBool("cookie_secure"),
		SweepInterval:          v.GetDuration("sweep_interval"),
		LoginAttemptsPerMinute: v.GetInt("login_attempts_per_minute"),
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL not set")
	}

	return cfg, nil
}

// ResolveCacheBackend picks the session cache backend. An explicit choice wins;
// otherwise a configured redis URL selects redis, then the relational cache if
// enabled, and finally the in-process memory cache.
func ResolveCacheBackend(explicit, redisURL string, databaseCache bool) (CacheBackend, error) {
	if explicit != "" {
		switch b := CacheBackend(strings.ToLower(explicit)); b {
		case CacheRedis:
			if redisURL == "" {
				return "", fmt.Errorf("cache backend %q requires REDIS_URL", b)
			}
			return b, nil
		case CacheDatabase, CacheMemory:
			return b, nil
		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownCacheBackend, explicit)
		}
	}

	switch {
	case redisURL != "":
		return CacheRedis, nil
	case databaseCache:
		return CacheDatabase, nil
	default:
		return CacheMemory, nil
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
