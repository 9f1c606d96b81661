// Package config loads application configuration from environment
// variables into one explicit struct. Nothing else in the module reads the
// environment; collaborators receive the pieces they need at construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxTimeout caps every outbound call timeout.
const maxTimeout = 30 * time.Second

// Config holds all runtime configuration values.
type Config struct {
	Env          string // application environment (dev, test, prod)
	Port         string // HTTP port to listen on
	JWTSecret    string // secret used to verify and mint access tokens
	AccessTTL    time.Duration
	SweepKeyHash string // bcrypt hash of the sweep trigger key, empty disables key auth
	Store        StoreConfig
	Gateway      GatewayConfig
	Booking      BookingConfig
	Notify       NotifyConfig
	Log          LogConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Cache        CacheConfig
}

// StoreConfig selects and configures the data store.
type StoreConfig struct {
	Driver       string // mysql or memory
	User         string
	Pass         string
	Host         string
	Port         string
	Name         string
	Timeout      time.Duration // per-call bound on store operations
	MaxOpenConns int
	SeedFile     string // outlet YAML loaded at startup by the memory driver
}

// DSN renders the go-sql-driver/mysql data source name.
func (s StoreConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		s.User, s.Pass, s.Host, s.Port, s.Name)
}

// GatewayConfig configures the payment gateway collaborator.
type GatewayConfig struct {
	Driver    string // http or sandbox
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// BookingConfig carries the deployment-wide booking rules.
type BookingConfig struct {
	MaxAdvanceDays   int
	HoldTTL          time.Duration
	CancelCutoff     time.Duration
	VAExpiry         time.Duration
	QRExpiry         time.Duration
	Currency         string
	SweepBatch       int
	SweepConcurrency int
}

// NotifyConfig configures reservation event delivery. An empty AMQPURL
// turns publishing off.
type NotifyConfig struct {
	AMQPURL string
	Queue   string
	LogFile string
}

// LogConfig configures the slog logger.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Production reports whether the deployment is production.
func (c Config) Production() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// AllowSimulation reports whether sandbox payment settlement is exposed.
func (c Config) AllowSimulation() bool { return !c.Production() }

// Load reads the environment and returns a Config. Every missing required
// variable is reported in one error.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Env:          envStr("APP_ENV", "dev"),
		Port:         envStr("APP_PORT", "8080"),
		JWTSecret:    l.must("JWT_SECRET"),
		AccessTTL:    envDur("ACCESS_TOKEN_TTL", time.Hour),
		SweepKeyHash: os.Getenv("SWEEP_KEY_HASH"),
		Store: StoreConfig{
			Driver:       strings.ToLower(envStr("STORE_DRIVER", "mysql")),
			Timeout:      capTimeout(envDur("STORE_TIMEOUT", 10*time.Second)),
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 20),
			SeedFile:     os.Getenv("SEED_FILE"),
		},
		Gateway: GatewayConfig{
			Driver:  strings.ToLower(envStr("GATEWAY_DRIVER", "http")),
			Timeout: capTimeout(envDur("GATEWAY_TIMEOUT", 10*time.Second)),
		},
		Booking: BookingConfig{
			MaxAdvanceDays:   envInt("BOOKING_MAX_ADVANCE_DAYS", 90),
			HoldTTL:          envDur("BOOKING_HOLD_TTL", 15*time.Minute),
			CancelCutoff:     envDur("BOOKING_CANCEL_CUTOFF", 2*time.Hour),
			VAExpiry:         envDur("PAYMENT_VA_EXPIRY", 24*time.Hour),
			QRExpiry:         envDur("PAYMENT_QR_EXPIRY", 30*time.Minute),
			Currency:         strings.ToUpper(envStr("PAYMENT_CURRENCY", "IDR")),
			SweepBatch:       envInt("SWEEP_BATCH", 200),
			SweepConcurrency: envInt("SWEEP_CONCURRENCY", 4),
		},
		Notify: NotifyConfig{
			AMQPURL: envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
			Queue:   envStr("RESERVATION_EVENTS_QUEUE", "reservation.events"),
			LogFile: envStr("RESERVATION_LOG_FILE", "logs/reservations.log"),
		},
		Log: LogConfig{
			Level:     envStr("LOG_LEVEL", "info"),
			Format:    envStr("LOG_FORMAT", "json"),
			AddSource: envBool("LOG_ADD_SOURCE", false),
		},
		Redis:     LoadRedisConfig(),
		RateLimit: LoadRateLimitConfig(),
		Cache:     LoadCacheConfig(),
	}

	switch cfg.Store.Driver {
	case "mysql":
		cfg.Store.User = l.must("DB_USER")
		cfg.Store.Pass = os.Getenv("DB_PASS")
		cfg.Store.Host = l.must("DB_HOST")
		cfg.Store.Port = envStr("DB_PORT", "3306")
		cfg.Store.Name = l.must("DB_NAME")
	case "memory":
	default:
		l.fail("STORE_DRIVER must be mysql or memory, got %q", cfg.Store.Driver)
	}

	switch cfg.Gateway.Driver {
	case "http":
		cfg.Gateway.BaseURL = l.must("GATEWAY_BASE_URL")
		cfg.Gateway.SecretKey = l.must("GATEWAY_SECRET_KEY")
	case "sandbox":
		if cfg.Production() {
			l.fail("GATEWAY_DRIVER=sandbox is not allowed in production")
		}
	default:
		l.fail("GATEWAY_DRIVER must be http or sandbox, got %q", cfg.Gateway.Driver)
	}

	if cfg.Booking.HoldTTL <= 0 {
		l.fail("BOOKING_HOLD_TTL must be positive")
	}
	if cfg.Booking.SweepConcurrency < 1 {
		cfg.Booking.SweepConcurrency = 1
	}
	if err := l.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loader collects configuration problems so they are reported together.
type loader struct {
	problems []string
}

// must retrieves a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		l.problems = append(l.problems, "missing required env var: "+key)
	}
	return v
}

func (l *loader) fail(format string, args ...any) {
	l.problems = append(l.problems, fmt.Sprintf(format, args...))
}

func (l *loader) err() error {
	if len(l.problems) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(l.problems, "; "))
}

func capTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
