package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverFile   = "file"
	StoreDriverRedis  = "redis"
)

type Config struct {
	Port     string
	Env      string
	LogLevel zerolog.Level

	StoreDriver       string
	StorePath         string
	StorePrefix       string
	StorePollInterval time.Duration

	RedisURL  string
	RedisPass string
	RedisDB   int

	AssetsDir    string
	SoundEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		Env:               envOr("ENV", "development"),
		StoreDriver:       strings.ToLower(envOr("STORE_DRIVER", StoreDriverFile)),
		StorePath:         envOr("STORE_PATH", "flipmaster.json"),
		StorePrefix:       envOr("STORE_PREFIX", "flipmaster"),
		StorePollInterval: time.Second,
		RedisURL:          envOr("REDIS_URL", "localhost:6379"),
		RedisPass:         os.Getenv("REDIS_PASSWORD"),
		AssetsDir:         envOr("ASSETS_DIR", "public/images"),
		SoundEnabled:      true,
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = db
	}

	if v := os.Getenv("STORE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid STORE_POLL_INTERVAL %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("STORE_POLL_INTERVAL must be positive, got %s", d)
		}
		cfg.StorePollInterval = d
	}

	if v := os.Getenv("SOUND_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SOUND_ENABLED %q: %w", v, err)
		}
		cfg.SoundEnabled = enabled
	}

	level, err := zerolog.ParseLevel(strings.ToLower(envOr("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	switch cfg.StoreDriver {
	case StoreDriverMemory, StoreDriverFile, StoreDriverRedis:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.StorePrefix == "" {
		return nil, fmt.Errorf("STORE_PREFIX must not be empty")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
