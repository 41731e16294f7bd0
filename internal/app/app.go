package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sundayezeilo/upae/internal/config"
	"github.com/sundayezeilo/upae/internal/keystore"
	"github.com/sundayezeilo/upae/internal/metrics"
	"github.com/sundayezeilo/upae/internal/server"
	"github.com/sundayezeilo/upae/internal/shortener"
	"github.com/sundayezeilo/upae/internal/telemetry"
	"github.com/sundayezeilo/upae/internal/upload"
	"github.com/sundayezeilo/upae/sluggen"
)

// App holds the application dependencies and configuration.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	DBPool     *pgxpool.Pool
	Redis      *redis.Client
	Store      keystore.Store
	Dispatcher *upload.Dispatcher
	Server     *server.Server

	cache          *keystore.CachedStore
	shutdownTracer func(context.Context) error
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return Build(ctx, cfg, setupLogger(cfg.App.LogLevel))
}

// Build wires an App from an already loaded configuration. On error every
// resource opened so far is released.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"keystore", cfg.KeyStore.Driver,
	)

	metrics.Init()

	if cfg.Observability.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, telemetry.TraceConfig{
			Endpoint:       cfg.Observability.OTelEndpoint,
			Insecure:       cfg.Observability.OTelInsecure,
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: cfg.Observability.ServiceVersion,
			SampleRate:     cfg.Observability.TracingSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.shutdownTracer = shutdown
	} else {
		logger.Warn("tracing disabled by config", "OTEL_ENABLED", false)
	}

	if err := a.openStore(ctx); err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	vocab, err := cfg.Slug.Vocabulary()
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}
	svc := shortener.NewService(a.Store, &shortener.ServiceConfig{
		SlugGenerator: sluggen.NewWordPair(vocab),
		MaxAttempts:   cfg.Slug.MaxAttempts,
		Logger:        logger,
	})

	providers, err := buildProviders(cfg.Upload)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}
	a.Dispatcher = upload.NewDispatcher(upload.DispatcherConfig{
		Providers:      providers,
		Client:         newOutboundClient(cfg),
		AttemptTimeout: cfg.Upload.ProviderTimeout,
		Deadline:       cfg.UploadDeadline(),
		Logger:         logger,
	})

	a.Server = server.New(cfg, logger, server.Handlers{
		Shortener: shortener.NewHandler(shortener.HandlerConfig{
			Service: svc,
			Logger:  logger,
			BaseURL: cfg.Server.BaseURL,
		}),
		Upload: upload.NewHandler(upload.HandlerConfig{
			Uploader: a.Dispatcher,
			Logger:   logger,
			MaxBytes: cfg.Upload.MaxBytes,
		}),
		Ready: func(ctx context.Context) error {
			return keystore.Ping(ctx, a.Store)
		},
	})

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"vocabulary_size", vocab.Size(),
		"upload_providers", a.Dispatcher.Providers(),
	)

	return a, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.cache != nil {
		a.cache.Close()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", "error", err.Error())
		} else {
			a.Logger.Info("redis connection closed")
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			a.Logger.Warn("failed to flush traces", "error", err.Error())
		}
	}

	return nil
}

// openStore connects the configured backend and layers the cache over it.
func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config

	if cfg.NeedsRedis() {
		client, err := connectRedis(ctx, cfg, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
	}

	var backend keystore.Store
	switch cfg.KeyStore.Driver {
	case config.DriverPostgres:
		pool, err := connectDatabase(ctx, cfg, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DBPool = pool

		pg := keystore.NewPostgresStore(pool, nil)
		if cfg.KeyStore.AutoMigrate {
			applied, err := pg.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			a.Logger.Info("database migrations applied", "count", len(applied), "migrations", applied)
		}
		backend = pg

	case config.DriverRedis:
		backend = keystore.NewRedisStore(a.Redis)

	default:
		a.Logger.Warn("using in-memory key store; links are lost on restart")
		backend = keystore.NewMemoryStore()
	}

	if !cfg.Cache.Enabled {
		a.Store = backend
		return nil
	}

	cached, err := newCachedStore(backend, cfg.Cache, a.Redis, a.Logger)
	if err != nil {
		return err
	}
	a.cache = cached
	a.Store = cached

	n, err := cached.Warm(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm slug filter: %w", err)
	}
	a.Logger.Info("slug filter warmed", "slugs", n)

	return nil
}

func newCachedStore(backend keystore.Store, cfg config.CacheConfig, client *redis.Client, logger *slog.Logger) (*keystore.CachedStore, error) {
	local, err := keystore.NewLocalCache(cfg.LocalMaxItems, cfg.LocalTTL, cfg.NegativeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}

	cacheCfg := keystore.CacheConfig{
		Local:  local,
		TTL:    cfg.RedisTTL,
		Logger: logger,
	}
	if cfg.RedisEnabled && client != nil {
		cacheCfg.Redis = client
	}
	if cfg.BloomEnabled {
		cacheCfg.Bloom = keystore.NewBloomFilter(cfg.BloomExpected, cfg.BloomFPRate)
	}

	return keystore.NewCachedStore(backend, cacheCfg), nil
}

// buildProviders turns the configured provider names into providers, in order.
func buildProviders(cfg config.UploadConfig) ([]upload.Provider, error) {
	providers := make([]upload.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case config.ProviderFreeImage:
			providers = append(providers, upload.NewFreeImage(cfg.FreeImageEndpoint, cfg.FreeImageAPIKey))
		case config.ProviderZeroX0:
			providers = append(providers, upload.NewZeroX0(cfg.ZeroX0Endpoint))
		case config.ProviderCloudinary:
			providers = append(providers, upload.NewCloudinary(upload.CloudinaryConfig{
				BaseURL:   cfg.CloudinaryBaseURL,
				CloudName: cfg.CloudinaryCloudName,
				APIKey:    cfg.CloudinaryAPIKey,
				APISecret: cfg.CloudinaryAPISecret,
			}))
		default:
			return nil, fmt.Errorf("unknown upload provider %q", name)
		}
	}
	return providers, nil
}

// newOutboundClient returns the client used to reach media hosts. Per-attempt
// deadlines come from the dispatcher, so the client sets no timeout.
func newOutboundClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport
	if cfg.Observability.Enabled {
		transport = otelhttp.NewTransport(transport)
	}
	return &http.Client{Transport: transport}
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set pool configuration
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectRedis opens and verifies the shared Redis client.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	opts, err := cfg.Redis.Options()
	if err != nil {
		return nil, err
	}

	logger.Info("connecting to redis", "addr", opts.Addr, "db", opts.DB)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established")

	return client, nil
}
