package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Client captures configuration for the gate and its warden client.
type Client struct {
	WardenURL       string
	AccountToken    string
	WardenPublicKey []byte
	StoreURL        string
	CheckTimeout    time.Duration
	Log             Log
}

// Log selects the slog handler.
type Log struct {
	Level  string
	Format string
}

// Warden captures configuration for the reference entitlement authority.
type Warden struct {
	Addr            string
	SigningKeySeed  []byte
	Store           string
	TokenTTL        time.Duration
	ChecksPerMinute int
	Redis           RedisConfig
	DatabaseURL     string
	Log             Log
}

// RedisConfig configures the platform redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

const (
	defaultWardenURL = "http://localhost:8085"
	defaultStoreURL  = "https://www.fab.com/listings/logic-driver-pro"
)

// LoadDotEnv overlays variables from a .env file when present. Variables
// already set in the environment win.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// ClientFromEnv builds the gate client config from environment variables.
func ClientFromEnv() (Client, error) {
	cfg := Client{
		WardenURL:    getEnv("LDGATE_WARDEN_URL", defaultWardenURL),
		AccountToken: os.Getenv("LDGATE_ACCOUNT_TOKEN"),
		StoreURL:     getEnv("LDGATE_STORE_URL", defaultStoreURL),
		Log:          logFromEnv("LDGATE"),
	}

	var err error
	if cfg.CheckTimeout, err = getDuration("LDGATE_CHECK_TIMEOUT", 0); err != nil {
		return Client{}, err
	}
	if raw := os.Getenv("LDGATE_WARDEN_PUBLIC_KEY"); raw != "" {
		if cfg.WardenPublicKey, err = decodeKey("LDGATE_WARDEN_PUBLIC_KEY", raw); err != nil {
			return Client{}, err
		}
	}
	return cfg, nil
}

// WardenFromEnv builds the warden config from environment variables.
func WardenFromEnv() (Warden, error) {
	cfg := Warden{
		Addr:        getEnv("WARDEN_ADDR", ":8085"),
		Store:       strings.ToLower(getEnv("WARDEN_STORE", StoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Log:         logFromEnv("WARDEN"),
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
	}

	var err error
	if cfg.TokenTTL, err = getDuration("WARDEN_TOKEN_TTL", 24*time.Hour); err != nil {
		return Warden{}, err
	}
	if cfg.ChecksPerMinute, err = getInt("WARDEN_CHECKS_PER_MINUTE", 30); err != nil {
		return Warden{}, err
	}
	if cfg.ChecksPerMinute < 1 {
		return Warden{}, fmt.Errorf("WARDEN_CHECKS_PER_MINUTE must be at least 1, got %d", cfg.ChecksPerMinute)
	}
	if cfg.Redis.PoolSize, err = getInt("REDIS_POOL_SIZE", 10); err != nil {
		return Warden{}, err
	}
	if cfg.Redis.MinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Warden{}, err
	}
	if cfg.Redis.DialTimeout, err = getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Warden{}, err
	}
	if cfg.Redis.ReadTimeout, err = getDuration("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Warden{}, err
	}
	if cfg.Redis.WriteTimeout, err = getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Warden{}, err
	}
	if raw := os.Getenv("WARDEN_SIGNING_KEY"); raw != "" {
		if cfg.SigningKeySeed, err = decodeKey("WARDEN_SIGNING_KEY", raw); err != nil {
			return Warden{}, err
		}
	}

	switch cfg.Store {
	case StoreMemory:
	case StoreRedis:
		if cfg.Redis.URL == "" {
			return Warden{}, fmt.Errorf("REDIS_URL is required when WARDEN_STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Warden{}, fmt.Errorf("DATABASE_URL is required when WARDEN_STORE=postgres")
		}
	default:
		return Warden{}, fmt.Errorf("unknown WARDEN_STORE %q", cfg.Store)
	}
	return cfg, nil
}

func logFromEnv(prefix string) Log {
	return Log{
		Level:  getEnv(prefix+"_LOG_LEVEL", "info"),
		Format: getEnv(prefix+"_LOG_FORMAT", "text"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func decodeKey(key, raw string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return b, nil
}
