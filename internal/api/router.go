package api

import (
	"promotion_engine/internal/catalog"     // Catalog store
	"promotion_engine/internal/engine"      // Claims, boosts and accounts
	"promotion_engine/internal/leaderboard" // Leaderboard queries
	"promotion_engine/internal/middleware"  // Auth, rate limit and signature checks
	"promotion_engine/internal/scoring"     // Aggregator maintenance

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"gorm.io/gorm"                 // GORM ORM library
)

// Dependencies wires the HTTP layer to the engine
type Dependencies struct {
	DB            *gorm.DB                // Primary store
	Redis         *redis.Client           // Read cache, nil disables caching
	JWTSecret     string                  // Token signing key
	WebhookSecret string                  // Payment processor HMAC key
	Limiter       *middleware.RateLimiter // Claim and boost throttle, nil disables it
	Accounts      *engine.Accounts        // Signup and tier changes
	Claims        *engine.Claims          // Daily claims
	Processor     *engine.Processor       // Boosts
	Catalog       *catalog.Store          // Promotable entities
	Aggregator    *scoring.Aggregator     // Rebuild and reconcile
	Leaderboard   *leaderboard.Service    // Ranked reads
}

// RegisterRoutes mounts every endpoint on r
func RegisterRoutes(r gin.IRouter, d Dependencies) {
	var throttle gin.HandlerFunc = func(c *gin.Context) { c.Next() } // No-op without a limiter
	if d.Limiter != nil {
		throttle = d.Limiter.Middleware()
	}
	auth := middleware.JWTAuthMiddleware(d.JWTSecret)

	// Auth routes
	r.POST("/user", RegisterHandler(d.Accounts))    // Registration endpoint
	r.GET("/user", LoginHandler(d.DB, d.JWTSecret)) // Login endpoint
	r.GET("/bundles", BundlesHandler())             // Bundle catalogue

	// Public leaderboards
	r.GET("/leaderboard/promoters", TopPromotersHandler(d.Leaderboard))  // Top promoters
	r.GET("/leaderboard/:entityType", LeaderboardHandler(d.Leaderboard)) // Entity leaderboard

	// Wallet routes (protected by JWT)
	walletGroup := r.Group("/wallet", auth)
	walletGroup.GET("", GetWalletHandler(d.DB, d.Redis))                  // Wallet view
	walletGroup.POST("/claim", throttle, ClaimHandler(d.Claims, d.Redis)) // Daily claim
	walletGroup.GET("/claims", ClaimHistoryHandler(d.DB))                 // Claim history
	walletGroup.GET("/boosts", BoostHistoryHandler(d.DB, d.Redis))        // Boost history

	r.POST("/boosts", auth, throttle, BoostHandler(d.Processor, d.Redis)) // Subscription boost

	// Payment processor webhooks (HMAC signed)
	hooks := r.Group("/webhooks/payments", middleware.WebhookSignatureMiddleware(d.WebhookSecret))
	hooks.POST("/instant-boost", InstantBoostWebhookHandler(d.Processor, d.Redis)) // Bundle purchase
	hooks.POST("/subscription", SubscriptionWebhookHandler(d.Accounts, d.Redis))   // Tier change

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin", auth, middleware.AdminOnlyMiddleware(d.DB))
	adminGroup.GET("/users", ListUsersHandler(d.DB))              // List users
	adminGroup.GET("/ledger", ListLedgerHandler(d.DB, d.Redis))   // Ledger audit
	adminGroup.PUT("/catalog", UpsertCatalogHandler(d.Catalog))   // Catalog sync
	adminGroup.POST("/rebuild", RebuildHandler(d.Aggregator))     // Re-derive aggregates
	adminGroup.POST("/reconcile", ReconcileHandler(d.Aggregator)) // Rolling window reconcile
}
