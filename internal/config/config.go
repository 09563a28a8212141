package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBDriver   string // Database driver: mysql or sqlite
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	DBPath     string // SQLite DSN when DBDriver is sqlite
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment
	LogFile    string // Rotated log file, stdout only when empty
	LogMaxMB   int    // Log file size before rotation

	Engine EngineConfig // Promotion engine settings

	WebhookSecret      string  // HMAC secret shared with the payment processor
	RateLimitPerMinute float64 // Claim/boost requests per user per minute
	RateLimitBurst     int     // Burst allowance for the rate limiter
}

// EngineConfig tunes the promotion engine
type EngineConfig struct {
	MinBoostSpend       int64         // System-wide minimum points per boost
	ClaimCooldown       time.Duration // Time between daily claims
	StreakGrace         time.Duration // Longest gap that keeps a streak alive
	MaxConflictRetries  int           // Optimistic lock retries before ErrConflict
	AggregatorShards    int           // Parallel aggregate workers
	AggregatorPoll      time.Duration // Outbox poll interval
	ReconcileInterval   time.Duration // Rolling window reconciliation cadence
	LeaderboardCacheTTL time.Duration // Redis TTL for leaderboard pages
}

// DefaultEngineConfig returns the production defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinBoostSpend:       10,
		ClaimCooldown:       24 * time.Hour,
		StreakGrace:         48 * time.Hour,
		MaxConflictRetries:  3,
		AggregatorShards:    4,
		AggregatorPoll:      2 * time.Second,
		ReconcileInterval:   5 * time.Minute,
		LeaderboardCacheTTL: 30 * time.Second,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	def := DefaultEngineConfig()
	return &Config{
		AppPort:    envString("APP_PORT", "8080"),   // Application port
		DBDriver:   envString("DB_DRIVER", "mysql"), // Database driver
		DBUser:     os.Getenv("DB_USER"),            // Database user
		DBPassword: os.Getenv("DB_PASSWORD"),        // Database password
		DBHost:     os.Getenv("DB_HOST"),            // Database host
		DBPort:     os.Getenv("DB_PORT"),            // Database port
		DBName:     os.Getenv("DB_NAME"),            // Database name
		DBPath:     envString("DB_PATH", "promotion.db"),
		JWTSecret:  os.Getenv("JWT_SECRET"),        // JWT secret key
		RedisAddr:  os.Getenv("REDIS_ADDR"),        // Redis server address
		RedisPass:  os.Getenv("REDIS_PASS"),        // Redis password
		RedisDB:    redisDB,                        // Redis database number
		IsProd:     os.Getenv("IS_PROD") == "true", // Is production environment
		LogFile:    os.Getenv("LOG_FILE"),          // Rotated log file
		LogMaxMB:   int(envInt64("LOG_MAX_MB", 100)),
		Engine: EngineConfig{
			MinBoostSpend:       envInt64("MIN_BOOST_SPEND", def.MinBoostSpend),
			ClaimCooldown:       envDuration("CLAIM_COOLDOWN", def.ClaimCooldown),
			StreakGrace:         envDuration("STREAK_GRACE", def.StreakGrace),
			MaxConflictRetries:  int(envInt64("MAX_CONFLICT_RETRIES", int64(def.MaxConflictRetries))),
			AggregatorShards:    int(envInt64("AGGREGATOR_SHARDS", int64(def.AggregatorShards))),
			AggregatorPoll:      envDuration("AGGREGATOR_POLL", def.AggregatorPoll),
			ReconcileInterval:   envDuration("RECONCILE_INTERVAL", def.ReconcileInterval),
			LeaderboardCacheTTL: envDuration("LEADERBOARD_CACHE_TTL", def.LeaderboardCacheTTL),
		},
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		RateLimitPerMinute: float64(envInt64("RATE_LIMIT_PER_MINUTE", 60)),
		RateLimitBurst:     int(envInt64("RATE_LIMIT_BURST", 10)),
	}
}

// envString returns the variable or a fallback when unset
func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt64 parses an integer variable, falling back on absence or garbage
func envInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil && v > 0 {
		return v
	}
	return fallback
}

// envDuration parses a Go duration such as "5m"
func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
