package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/upae/sluggen"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	KeyStore      KeyStoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Slug          SlugConfig
	Upload        UploadConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`

	// AdminAddr serves /metrics on a separate listener; empty disables it.
	AdminAddr   string   `envconfig:"SERVER_ADMIN_ADDR"`
	CORSOrigins []string `envconfig:"SERVER_CORS_ORIGINS" default:"*"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Address returns the host:port the public server listens on.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}

// Key store drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// KeyStoreConfig selects where slug records live.
type KeyStoreConfig struct {
	Driver      string `envconfig:"KEYSTORE_DRIVER" default:"postgres"`
	AutoMigrate bool   `envconfig:"KEYSTORE_AUTO_MIGRATE" default:"true"`
}

// Validate validates the key store configuration.
func (c *KeyStoreConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverRedis, DriverMemory:
		return nil
	default:
		return fmt.Errorf("invalid key store driver: %s (must be one of: postgres, redis, memory)", c.Driver)
	}
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" required:"true"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" required:"true"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the Redis connection used by the redis driver and the
// L2 cache.
type RedisConfig struct {
	URL string `envconfig:"REDIS_URL" required:"true"`
}

// Validate validates the redis configuration.
func (c *RedisConfig) Validate() error {
	if _, err := c.Options(); err != nil {
		return err
	}
	return nil
}

// Options parses URL into client options.
func (c *RedisConfig) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return opts, nil
}

// CacheConfig controls the read-through layers in front of the key store.
type CacheConfig struct {
	Enabled       bool          `envconfig:"CACHE_ENABLED" default:"true"`
	LocalMaxItems int64         `envconfig:"CACHE_LOCAL_MAX_ITEMS" default:"10000"`
	LocalTTL      time.Duration `envconfig:"CACHE_LOCAL_TTL" default:"5m"`
	NegativeTTL   time.Duration `envconfig:"CACHE_NEGATIVE_TTL" default:"10s"`
	RedisEnabled  bool          `envconfig:"CACHE_REDIS_ENABLED" default:"false"`
	RedisTTL      time.Duration `envconfig:"CACHE_REDIS_TTL" default:"1h"`
	BloomEnabled  bool          `envconfig:"CACHE_BLOOM_ENABLED" default:"true"`
	BloomExpected uint          `envconfig:"CACHE_BLOOM_EXPECTED_ITEMS" default:"100000"`
	BloomFPRate   float64       `envconfig:"CACHE_BLOOM_FP_RATE" default:"0.01"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.LocalMaxItems <= 0 {
		return fmt.Errorf("local cache max items must be positive")
	}
	if c.LocalTTL <= 0 || c.NegativeTTL <= 0 || c.RedisTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.BloomEnabled {
		if c.BloomExpected == 0 {
			return fmt.Errorf("bloom expected items must be positive")
		}
		if c.BloomFPRate <= 0 || c.BloomFPRate >= 1 {
			return fmt.Errorf("bloom false positive rate must be between 0 and 1, got %f", c.BloomFPRate)
		}
	}
	return nil
}

// SlugConfig holds the slug draw bound and optional word list overrides.
type SlugConfig struct {
	MaxAttempts int      `envconfig:"SLUG_MAX_ATTEMPTS" default:"32"`
	Nouns       []string `envconfig:"SLUG_NOUNS"`
	Adjectives  []string `envconfig:"SLUG_ADJECTIVES"`
}

// Validate validates the slug configuration.
func (c *SlugConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	_, err := c.Vocabulary()
	return err
}

// Vocabulary returns the configured word lists, falling back to the
// built-in list for whichever side is unset.
func (c *SlugConfig) Vocabulary() (sluggen.Vocabulary, error) {
	def := sluggen.DefaultVocabulary()
	if len(c.Nouns) == 0 && len(c.Adjectives) == 0 {
		return def, nil
	}

	nouns, adjectives := def.Nouns(), def.Adjectives()
	if len(c.Nouns) > 0 {
		nouns = trimAll(c.Nouns)
	}
	if len(c.Adjectives) > 0 {
		adjectives = trimAll(c.Adjectives)
	}
	vocab, err := sluggen.NewVocabulary(nouns, adjectives)
	if err != nil {
		return sluggen.Vocabulary{}, fmt.Errorf("invalid slug vocabulary: %w", err)
	}
	return vocab, nil
}

// Upload provider names.
const (
	ProviderFreeImage  = "freeimage"
	ProviderZeroX0     = "0x0"
	ProviderCloudinary = "cloudinary"
)

// UploadConfig holds the ordered provider list and their credentials.
type UploadConfig struct {
	Providers         []string      `envconfig:"UPLOAD_PROVIDERS" default:"freeimage,0x0"`
	ProviderTimeout   time.Duration `envconfig:"UPLOAD_PROVIDER_TIMEOUT" default:"30s"`
	MaxBytes          int64         `envconfig:"UPLOAD_MAX_BYTES" default:"10485760"`
	FreeImageAPIKey   string        `envconfig:"UPLOAD_FREEIMAGE_API_KEY"`
	FreeImageEndpoint string        `envconfig:"UPLOAD_FREEIMAGE_ENDPOINT" default:"https://freeimage.host/api/1/upload"`
	ZeroX0Endpoint    string        `envconfig:"UPLOAD_0X0_ENDPOINT" default:"https://0x0.st"`

	CloudinaryBaseURL   string `envconfig:"CLOUDINARY_BASE_URL" default:"https://api.cloudinary.com"`
	CloudinaryCloudName string `envconfig:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `envconfig:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `envconfig:"CLOUDINARY_API_SECRET"`
}

// Validate validates the upload configuration.
func (c *UploadConfig) Validate() error {
	c.Providers = trimAll(c.Providers)
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one upload provider is required")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive")
	}

	for i, name := range c.Providers {
		if slices.Contains(c.Providers[:i], name) {
			return fmt.Errorf("duplicate upload provider: %s", name)
		}
		switch name {
		case ProviderFreeImage:
			if c.FreeImageAPIKey == "" {
				return fmt.Errorf("UPLOAD_FREEIMAGE_API_KEY is required for the freeimage provider")
			}
		case ProviderZeroX0:
		case ProviderCloudinary:
			if c.CloudinaryCloudName == "" || c.CloudinaryAPIKey == "" || c.CloudinaryAPISecret == "" {
				return fmt.Errorf("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET are required for the cloudinary provider")
			}
		default:
			return fmt.Errorf("unknown upload provider: %s (must be one of: freeimage, 0x0, cloudinary)", name)
		}
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds configuration for tracing/metrics.
type ObservabilityConfig struct {
	Enabled           bool    `envconfig:"OTEL_ENABLED" required:"true"`
	ServiceName       string  `envconfig:"OTEL_SERVICE_NAME"`
	ServiceVersion    string  `envconfig:"OTEL_SERVICE_VERSION"`
	OTelEndpoint      string  `envconfig:"OTEL_ENDPOINT"`
	OTelInsecure      bool    `envconfig:"OTEL_INSECURE"`
	TracingSampleRate float64 `envconfig:"OTEL_TRACING_SAMPLE_RATE"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %f", c.TracingSampleRate)
	}

	// Only require these when observability is enabled.
	if c.Enabled {
		if c.ServiceName == "" {
			return fmt.Errorf("service name is required when observability is enabled")
		}
		if c.OTelEndpoint == "" {
			return fmt.Errorf("OTEL endpoint is required when observability is enabled")
		}
		if c.ServiceVersion == "" {
			return fmt.Errorf("service version is required when observability is enabled")
		}
	}

	return nil
}

// NeedsRedis reports whether any component uses the Redis connection.
func (c *Config) NeedsRedis() bool {
	return c.KeyStore.Driver == DriverRedis || (c.Cache.Enabled && c.Cache.RedisEnabled)
}

// UploadDeadline bounds one whole upload dispatch. It stays below
// SERVER_WRITE_TIMEOUT so a dispatch where every provider fails slowly still
// has time to write its error response.
func (c *Config) UploadDeadline() time.Duration {
	wt := c.Server.WriteTimeout
	if wt <= 0 {
		return 0
	}
	margin := max(wt/10, time.Second)
	if margin >= wt {
		return wt / 2
	}
	return wt - margin
}

type section struct {
	name   string
	target any
	check  func() error
}

// Load loads configuration from environment variables only.
// (.env loading happens in the app package for development and test.)
// Database and Redis are only read when a component needs them.
func Load() (*Config, error) {
	cfg := &Config{}

	head := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"KeyStore", &cfg.KeyStore, cfg.KeyStore.Validate},
		{"Cache", &cfg.Cache, cfg.Cache.Validate},
	}
	if err := loadSections(head); err != nil {
		return nil, err
	}

	var deps []section
	if cfg.KeyStore.Driver == DriverPostgres {
		deps = append(deps, section{"Database", &cfg.Database, cfg.Database.Validate})
	}
	if cfg.NeedsRedis() {
		deps = append(deps, section{"Redis", &cfg.Redis, cfg.Redis.Validate})
	}
	deps = append(deps,
		section{"Slug", &cfg.Slug, cfg.Slug.Validate},
		section{"Upload", &cfg.Upload, cfg.Upload.Validate},
		section{"App", &cfg.App, cfg.App.Validate},
		section{"Observability", &cfg.Observability, cfg.Observability.Validate},
	)
	if err := loadSections(deps); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadSections(sections []section) error {
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.check(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}
	return nil
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
