package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "phigate/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	ApprovedIDs   []string
	ShutdownGrace time.Duration
	CORSOrigins   []string

	RateLimit RateLimit
	Database  Database
	Redis     RedisConfig
	Audit     Audit
}

// RateLimit configures the per-caller token bucket. RPS of zero disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Database selects the Postgres audit store when URL is set.
type Database struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig selects the Redis record store when URL is set.
type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Audit tunes the audit append path.
type Audit struct {
	AppendAttempts     int
	RetryBackoff       time.Duration
	DeadLetterCapacity int
	ReplayInterval     time.Duration
	ReplayBatchSize    int
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
// Malformed numeric or duration values are reported rather than silently
// replaced by defaults.
func FromEnv() (Server, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	// JWT_SIGNING_KEY falls back to a development key; production must set it.
	cfg := Server{
		Addr:          envString("PHIGATE_ADDR", ":8080"),
		LogLevel:      envString("PHIGATE_LOG_LEVEL", "info"),
		JWTSigningKey: envString("JWT_SIGNING_KEY", devSigningKey),
		JWTIssuer:     envString("JWT_ISSUER", "phigate"),
		ApprovedIDs:   pstrings.SplitList(os.Getenv("PHIGATE_APPROVED_IDS"), ","),
		ShutdownGrace: durVar("PHIGATE_SHUTDOWN_GRACE", 15*time.Second),
		CORSOrigins:   pstrings.SplitList(os.Getenv("PHIGATE_CORS_ORIGINS"), ","),
		RateLimit: RateLimit{
			RPS:   floatVar("PHIGATE_RATE_LIMIT_RPS", 20),
			Burst: intVar("PHIGATE_RATE_LIMIT_BURST", 40),
		},
		Database: Database{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: intVar("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: intVar("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			KeyPrefix:    envString("REDIS_KEY_PREFIX", "phigate"),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durVar("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durVar("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Audit: Audit{
			AppendAttempts:     intVar("AUDIT_APPEND_ATTEMPTS", 3),
			RetryBackoff:       durVar("AUDIT_RETRY_BACKOFF", 25*time.Millisecond),
			DeadLetterCapacity: intVar("AUDIT_DEADLETTER_CAPACITY", 1024),
			ReplayInterval:     durVar("AUDIT_REPLAY_INTERVAL", 30*time.Second),
			ReplayBatchSize:    intVar("AUDIT_REPLAY_BATCH_SIZE", 100),
		},
	}

	if cfg.Audit.AppendAttempts < 1 {
		errs = append(errs, "AUDIT_APPEND_ATTEMPTS must be at least 1")
	}
	if cfg.RateLimit.RPS < 0 {
		errs = append(errs, "PHIGATE_RATE_LIMIT_RPS must not be negative")
	}
	if cfg.Audit.DeadLetterCapacity < 1 {
		errs = append(errs, "AUDIT_DEADLETTER_CAPACITY must be at least 1")
	}
	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// UsesDevSigningKey reports whether the built-in development key is active.
func (s Server) UsesDevSigningKey() bool {
	return s.JWTSigningKey == devSigningKey
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a number", key, raw)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return v, nil
}
