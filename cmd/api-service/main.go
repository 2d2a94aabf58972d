package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/nugacorp/device-jobs/internal/api/handler"
	"github.com/nugacorp/device-jobs/internal/api/router"
	"github.com/nugacorp/device-jobs/internal/api/service"
	"github.com/nugacorp/device-jobs/internal/auth"
	"github.com/nugacorp/device-jobs/internal/config"
	"github.com/nugacorp/device-jobs/internal/storage"
	"github.com/nugacorp/device-jobs/shared/logger"
	"github.com/nugacorp/device-jobs/shared/postgresql"
	"github.com/nugacorp/device-jobs/shared/rabbitmq"
	"github.com/nugacorp/device-jobs/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()
	appLogger.Info("Database pool ready", slog.String("stats", dbClient.Stats()))

	if cfg.Database.AutoMigrate {
		if err := dbClient.Migrate(ctx, cfg.Database.MigrationsTable); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store := storage.NewPostgres(dbClient.GetDB(), appLogger.Logger)
	authorizer := auth.NewRoleAuthorizer()
	readyChecks := map[string]router.HealthChecker{"database": dbClient}

	gatewayCfg := &service.GatewayConfig{
		Store:             store,
		Authorizer:        authorizer,
		Logger:            appLogger.Logger,
		DefaultMaxRetries: cfg.Jobs.DefaultMaxRetries,
		MaxRetriesCap:     cfg.Jobs.MaxRetriesCap,
	}

	// Initialize Redis rate limiter (optional)
	if limiter, redisClient := initRateLimiter(ctx, cfg, appLogger.Logger); limiter != nil {
		defer redisClient.Close()
		gatewayCfg.Limiter = limiter
		readyChecks["redis"] = redisClient
	}

	// Initialize RabbitMQ wake-up publisher (optional)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			// workers still find jobs by polling
			appLogger.Warn("RabbitMQ unavailable, job notifications disabled",
				slog.Any("error", err),
			)
		} else {
			defer rabbitClient.Close()
			gatewayCfg.Notifier = service.NewBrokerNotifier(rabbitClient, cfg.RabbitMQ.Publish.Timeout)
		}
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, gatewayCfg, store, authorizer, readyChecks)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	timeFormat := cfg.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	return logger.New(&logger.Config{
		Level:             cfg.Logging.Level,
		Format:            cfg.Logging.Format,
		Output:            cfg.Logging.Output,
		EnableSource:      cfg.Logging.EnableSource,
		TimeFormat:        timeFormat,
		SentryDSN:         cfg.Logging.SentryDSN,
		SentryEnvironment: cfg.App.Environment,
		SentryRelease:     cfg.App.Version,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		RetryAttempts:   cfg.RetryAttempts,
		RetryInterval:   cfg.RetryInterval,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRateLimiter connects the enqueue rate limiter. An unreachable Redis
// leaves enqueue unlimited, same as an outage after startup.
func initRateLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.RateLimiter, *redis.Client) {
	if !cfg.Redis.Enabled || cfg.Jobs.RateLimit <= 0 {
		return nil, nil
	}

	redisClient, err := initRedis(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, enqueue rate limit disabled",
			slog.Any("error", err),
		)
		return nil, nil
	}

	logger.Info("Enqueue rate limit enabled",
		slog.Int("limit", cfg.Jobs.RateLimit),
		slog.Duration("window", cfg.Jobs.RateLimitWindow),
	)
	return redis.NewFixedWindowLimiter(redisClient.GetClient(), "device_jobs:enqueue", cfg.Jobs.RateLimit, cfg.Jobs.RateLimitWindow), redisClient
}

// initRedis initializes the Redis client backing the rate limiter
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		URL:           cfg.URL,
		PoolSize:      cfg.PoolSize,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	gatewayCfg *service.GatewayConfig,
	store storage.Store,
	authorizer *auth.RoleAuthorizer,
	readyChecks map[string]router.HealthChecker,
) *gin.Engine {
	// Set Gin mode from config, falling back to the environment
	switch {
	case cfg.Server.Mode != "":
		gin.SetMode(cfg.Server.Mode)
	case cfg.App.Environment == "production":
		gin.SetMode(gin.ReleaseMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:  logger,
		Gateway: service.NewGateway(gatewayCfg),
		Reader:  service.NewReader(store, authorizer, logger),
	}

	return router.SetupRouter(&router.Config{
		ServiceName:    cfg.App.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Verifier:       auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Leeway),
		ReadyChecks:    readyChecks,
	}, handlerDeps)
}
