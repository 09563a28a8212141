package main

import (
	"context"   // Context for Redis operations and shutdown
	"errors"    // Error inspection
	"io"        // Log fan-out
	"net/http"  // HTTP server
	"os"        // Stdout
	"os/signal" // Shutdown signals
	"syscall"   // Signal numbers
	"time"      // Shutdown timeout

	"promotion_engine/internal/api"         // Custom package for API handlers
	"promotion_engine/internal/catalog"     // Catalog store
	"promotion_engine/internal/config"      // Custom package for configuration
	"promotion_engine/internal/db"          // Database connection
	"promotion_engine/internal/engine"      // Claims, boosts and accounts
	"promotion_engine/internal/leaderboard" // Leaderboard queries
	"promotion_engine/internal/metrics"     // Prometheus collectors
	"promotion_engine/internal/middleware"  // Custom package for middleware
	"promotion_engine/internal/scoring"     // Aggregates

	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/redis/go-redis/v9"                            // Redis client
	"github.com/sirupsen/logrus"                              // Logrus for structured logging
	"gopkg.in/natefinch/lumberjack.v2"                        // Log rotation
)

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{}) // Machine-readable in production
	} else {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,  // Log path
			MaxSize:    cfg.LogMaxMB, // Megabytes before rotation
			MaxBackups: 5,            // Rotated files kept
			Compress:   true,         // Gzip rotated files
		}
		defer rotator.Close()
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}
	if cfg.WebhookSecret == "" {
		logrus.Warn("WEBHOOK_SECRET is empty, payment webhooks will be rejected")
	}

	// Connect to the database
	dsn := cfg.DBPath
	if cfg.DBDriver != "sqlite" {
		dsn = db.MySQLDSN(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	gdb, err := db.Open(cfg.DBDriver, dsn)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})
	// Test Redis connection
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine
	m := metrics.Promotion()
	aggregator := scoring.New(scoring.Config{
		DB:      gdb,
		Shards:  cfg.Engine.AggregatorShards,
		Poll:    cfg.Engine.AggregatorPoll,
		Metrics: m,
	})
	store := catalog.NewStore(gdb, redisClient)
	deps := api.Dependencies{
		DB:            gdb,
		Redis:         redisClient,
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.WebhookSecret,
		Limiter:       middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		Accounts:      engine.NewAccounts(gdb),
		Claims:        engine.NewClaims(gdb, cfg.Engine, nil, m),
		Processor:     engine.NewProcessor(gdb, store, aggregator, cfg.Engine, nil, m),
		Catalog:       store,
		Aggregator:    aggregator,
		Leaderboard:   leaderboard.NewService(gdb, redisClient, cfg.Engine.LeaderboardCacheTTL, nil),
	}
	go aggregator.Run(ctx) // Outbox drain loop
	go scoring.NewScheduler(scoring.SchedulerConfig{Aggregator: aggregator, Interval: cfg.Engine.ReconcileInterval}).Start(ctx)

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := gin.New()                                    // Gin router instance
	r.Use(middleware.RequestLogger(), gin.Recovery()) // Request ids and panic recovery

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}
	api.RegisterRoutes(r, deps)
	r.GET("/metrics", gin.WrapH(promhttp.Handler())) // Prometheus scrape endpoint

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		logrus.Info("Server running on " + cfg.AppPort) // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("graceful shutdown failed: %v", err)
	}
	_ = redisClient.Close()
}
