package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/taskmesh/internal/application/orchestrator"
	"github.com/aescanero/taskmesh/internal/application/workers"
	"github.com/aescanero/taskmesh/internal/config"
	leveldbcache "github.com/aescanero/taskmesh/pkg/adapters/cache/leveldb"
	memorycache "github.com/aescanero/taskmesh/pkg/adapters/cache/memory"
	rediscache "github.com/aescanero/taskmesh/pkg/adapters/cache/redis"
	memoryevents "github.com/aescanero/taskmesh/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/taskmesh/pkg/adapters/events/redis"
	"github.com/aescanero/taskmesh/pkg/adapters/llm"
	"github.com/aescanero/taskmesh/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/taskmesh/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/taskmesh/pkg/adapters/storage/redis"
	"github.com/aescanero/taskmesh/pkg/api/http"
	"github.com/aescanero/taskmesh/pkg/api/websocket"
	"github.com/aescanero/taskmesh/pkg/ports"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting taskmesh",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	cache, closeCache, err := newCache(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to create cache", zap.Error(err))
	}

	var eventBus ports.EventBus
	switch cfg.Backends.Events {
	case "redis":
		eventBus = redisevents.NewStreamsEventBus(
			redisClient,
			cfg.Backends.EventsConsumerGroup,
			fmt.Sprintf("taskmesh-%d", os.Getpid()),
			cfg.Backends.EventsStreamMaxLen,
			logger,
		)
	default:
		eventBus = memoryevents.NewEventBus(logger)
	}

	var results ports.ResultStore
	switch cfg.Backends.ResultStore {
	case "redis":
		results = redisstorage.NewResultStore(redisClient, cfg.Backends.ResultTTL, logger)
	default:
		results = memorystorage.NewResultStore()
	}

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := prometheus.NewCollector(registry)

	// Initialize application components
	dispatcher := workers.NewDispatcher(workers.Config{
		DefaultMaxConcurrency: cfg.Dispatch.DefaultMaxConcurrency,
		DefaultCallsPerMinute: cfg.Dispatch.DefaultCallsPerMinute,
		MaxAttempts:           cfg.Dispatch.MaxAttempts,
		BackoffBase:           cfg.Dispatch.BackoffBase,
		BackoffMax:            cfg.Dispatch.BackoffMax,
		CallTimeout:           cfg.Dispatch.CallTimeout,
		RateLimitWait:         cfg.Dispatch.RateLimitWait,
		CacheTTL:              cfg.Cache.TTL,
	}, cache, metricsCollector, logger)

	if err := registerCapabilities(cfg, dispatcher, logger); err != nil {
		logger.Fatal("failed to register capabilities", zap.Error(err))
	}

	healthMonitor := workers.NewHealthMonitor(dispatcher, cfg.Dispatch.HealthCheckInterval, logger)
	healthMonitor.Start()

	orchestratorMgr := orchestrator.NewManager(
		dispatcher,
		eventBus,
		results,
		metricsCollector,
		orchestrator.Config{
			TaskTimeout:  cfg.Timeouts.TaskTimeout,
			RunTimeout:   cfg.Timeouts.RunTimeout,
			RunRetention: cfg.Timeouts.RunRetention,
		},
		logger,
	)

	// Initialize API server
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orchestratorMgr,
		Health:       healthMonitor,
		Gatherer:     registry,
		Logger:       logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, orchestratorMgr, logger))

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("taskmesh started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("cache_backend", cfg.Backends.Cache),
		zap.String("event_bus_backend", cfg.Backends.Events),
		zap.String("result_store_backend", cfg.Backends.ResultStore))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := closeCache(); err != nil {
		logger.Error("cache close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("taskmesh shut down complete")
}

// newCache builds the configured cache backend and its close function
func newCache(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.CacheStore, func() error, error) {
	switch cfg.Backends.Cache {
	case "redis":
		return rediscache.NewStore(client, logger), func() error { return nil }, nil
	case "leveldb":
		store, err := leveldbcache.Open(cfg.Cache.LevelDBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		store.StartCleanup(cfg.Cache.SweepInterval)
		return store, store.Close, nil
	default:
		store := memorycache.NewStore(logger)
		store.Start(cfg.Cache.SweepInterval)
		return store, func() error {
			store.Stop()
			return nil
		}, nil
	}
}

// registerCapabilities registers the built-in capabilities. The only one is
// the LLM capability, so without LLM_API_KEY every submission fails with an
// unknown capability error.
func registerCapabilities(cfg *config.Config, dispatcher *workers.Dispatcher, logger *zap.Logger) error {
	concurrency, err := cfg.ConcurrencyOverrides()
	if err != nil {
		return err
	}
	rates, err := cfg.CallsPerMinuteOverrides()
	if err != nil {
		return err
	}
	options := func(name string) workers.CapabilityOptions {
		return workers.CapabilityOptions{
			MaxConcurrency: concurrency[name],
			CallsPerMinute: rates[name],
		}
	}

	if cfg.LLM.APIKey == "" {
		logger.Warn("LLM_API_KEY not set, LLM capability disabled")
		logger.Warn("no capabilities registered; all submissions will be rejected")
		return nil
	}

	capability, err := llm.NewCapability(&llm.Config{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.DefaultModel,
		MaxTokens:      int64(cfg.LLM.DefaultMaxTokens),
		BaseURL:        cfg.LLM.BaseURL,
		RequestTimeout: cfg.LLM.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM capability: %w", err)
	}

	if err := dispatcher.Register(cfg.LLM.Capability, capability, options(cfg.LLM.Capability)); err != nil {
		return fmt.Errorf("failed to register %s: %w", cfg.LLM.Capability, err)
	}
	logger.Info("capability registered",
		zap.String("capability", cfg.LLM.Capability),
		zap.String("provider", cfg.LLM.Provider))

	return nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
