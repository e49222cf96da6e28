package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitDefault     = 120
	defaultRateLimitCheckout    = 30
	defaultCurrency             = "MAD"
	defaultCountry              = "MA"
	defaultLoyaltyPointValue    = 10
	defaultLoyaltyEarnRate      = 1000
	defaultOrderEventsTopic     = "order-events"
	defaultPaymentsTopic        = "payment-records"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Loyalty     LoyaltyConfig
	Defaults    MarketDefaults
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics used for async messaging.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	PaymentsTopic    string
}

// LoyaltyConfig tunes the loyalty point economy. PointValueMinor is the minor
// unit discount granted per redeemed point; EarnRateMinor is the amount of
// order total, in minor units, that earns one point (0 disables accrual).
type LoyaltyConfig struct {
	PointValueMinor int64
	EarnRateMinor   int64
}

// MarketDefaults carries marketplace-wide fallbacks.
type MarketDefaults struct {
	Currency string
	Country  string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute  int
	CheckoutPerMinute int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// envSource resolves keys in precedence order: explicit map, then the system
// environment, then the .env file.
type envSource struct {
	explicit  map[string]string
	dotenv    map[string]string
	systemEnv bool
}

func (s envSource) raw(key string) (string, bool) {
	if value, ok := s.explicit[key]; ok {
		return value, true
	}
	if s.systemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s envSource) str(key, fallback string) string {
	if value, ok := s.raw(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.raw(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s envSource) integer(key string, fallback int) int {
	if value, ok := s.raw(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s envSource) int64(key string, fallback int64) int64 {
	if value, ok := s.raw(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// Load assembles the application configuration by combining defaults, .env
// overrides, and environment variables.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := parseEnvFile(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := envSource{
		explicit:  options.envMap,
		dotenv:    dotenv,
		systemEnv: options.useSystemEnv,
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			PaymentsTopic:    env.str("API_PUBSUB_PAYMENTS_TOPIC", defaultPaymentsTopic),
		},
		Loyalty: LoyaltyConfig{
			PointValueMinor: env.int64("API_LOYALTY_POINT_VALUE_MINOR", defaultLoyaltyPointValue),
			EarnRateMinor:   env.int64("API_LOYALTY_EARN_RATE_MINOR", defaultLoyaltyEarnRate),
		},
		Defaults: MarketDefaults{
			Currency: env.str("API_DEFAULT_CURRENCY", defaultCurrency),
			Country:  env.str("API_DEFAULT_COUNTRY", defaultCountry),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:  env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			CheckoutPerMinute: env.integer("API_RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitCheckout),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Pub/Sub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	invalid := func(name string) { missing = append(missing, name) }

	if cfg.Server.Port == "" {
		invalid("Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		invalid("Firestore.ProjectID")
	}
	if cfg.Loyalty.PointValueMinor <= 0 {
		invalid("Loyalty.PointValueMinor")
	}
	if cfg.Loyalty.EarnRateMinor < 0 {
		invalid("Loyalty.EarnRateMinor")
	}
	if cfg.Defaults.Currency == "" {
		invalid("Defaults.Currency")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid("Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid("Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// parseEnvFile reads KEY=VALUE pairs from a .env style file. A missing file
// is not an error; local development simply runs without one.
func parseEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
