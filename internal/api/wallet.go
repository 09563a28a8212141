package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"time"     // Time durations

	"promotion_engine/internal/domain" // Importing domain models
	"promotion_engine/internal/engine" // Daily claim engine
	"promotion_engine/internal/utils"  // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"gorm.io/gorm"                 // GORM ORM library

	"github.com/sirupsen/logrus" // Logging library
)

// WalletResponse is the wallet view returned to the owner
type WalletResponse struct {
	Balance       int64       `json:"balance"`         // Spendable points
	StreakDays    int         `json:"streak_days"`     // Current claim streak
	LastClaimedAt *time.Time  `json:"last_claimed_at"` // Last successful claim
	Tier          domain.Tier `json:"tier"`            // Subscription tier
	DailyPoints   int64       `json:"daily_points"`    // Allotment granted per claim
}

// walletCacheKey returns the Redis key for a user's wallet view
func walletCacheKey(userID uint) string {
	return "wallet:user:" + strconv.Itoa(int(userID))
}

// GetWalletHandler returns the authenticated user's wallet
func GetWalletHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ctx := c.Request.Context()         // Context for Redis operations
		cacheKey := walletCacheKey(userID) // Cache key for wallet
		var cached WalletResponse          // Cached wallet view
		found, err := utils.GetCache(ctx, rdb, cacheKey, &cached)
		// If found in cache, return it
		if err == nil && found {
			c.JSON(http.StatusOK, gin.H{"wallet": cached, "cached": true})
			return
		}
		var user domain.User // Load user with wallet
		if err := db.WithContext(ctx).Preload("Wallet").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
				return
			}
			respondError(c, err)
			return
		}
		resp := WalletResponse{
			Balance:       user.Wallet.Balance,       // Spendable points
			StreakDays:    user.Wallet.StreakDays,    // Current streak
			LastClaimedAt: user.Wallet.LastClaimedAt, // Last claim
			Tier:          user.Tier,                 // Subscription tier
			DailyPoints:   user.Tier.DailyPoints(),   // Allotment
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, 60*time.Second) // Cache the wallet for 60 seconds
		c.JSON(http.StatusOK, gin.H{"wallet": resp, "cached": false})
	}
}

// ClaimHandler grants the tier's daily points to the authenticated user
func ClaimHandler(claims *engine.Claims, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		result, err := claims.ClaimDailyPoints(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		_ = utils.DeleteCache(c.Request.Context(), rdb, walletCacheKey(userID)) // Invalidate wallet cache
		c.JSON(http.StatusOK, result)
	}
}

// ClaimHistoryHandler lists the authenticated user's daily claims, newest first
func ClaimHistoryHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		page, pageSize := pageParams(c) // Parse pagination
		query := db.WithContext(c.Request.Context()).Model(&domain.DailyClaim{}).Where("user_id = ?", userID)
		var total int64 // Count claims
		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			respondError(c, err)
			return
		}
		var rows []domain.DailyClaim // Fetch claims
		if err := query.Session(&gorm.Session{}).Order("claimed_at desc").Order("id desc").
			Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"claims":      rows,                                            // Claims on this page
			"page":        page,                                            // Current page
			"page_size":   pageSize,                                        // Page size
			"total":       total,                                           // Total claims
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize), // Total pages
		})
	}
}

// BoostHistoryHandler lists the authenticated user's ledger entries, newest first
func BoostHistoryHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		page, pageSize := pageParams(c) // Parse pagination
		ctx := c.Request.Context()      // Context for Redis operations
		// Pages are keyed by the user's history version; invalidation bumps it
		version, verr := utils.CacheVersion(ctx, rdb, boostHistoryVersionKey(userID))
		if verr != nil {
			logrus.WithFields(logrus.Fields{"user_id": userID, "error": verr.Error()}).Warn("Boost history version read failed")
		}
		cacheKey := boostHistoryKey(userID, version, page, pageSize)
		var cached gin.H
		// Try to get from cache
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); verr == nil && err == nil && found {
			cached["cached"] = true
			c.JSON(http.StatusOK, cached)
			return
		}
		query := db.WithContext(ctx).Model(&domain.PromotionLedgerEntry{}).Where("user_id = ?", userID)
		var total int64 // Count entries
		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			respondError(c, err)
			return
		}
		var entries []domain.PromotionLedgerEntry // Fetch entries
		if err := query.Session(&gorm.Session{}).Order("id desc").
			Offset((page - 1) * pageSize).Limit(pageSize).Find(&entries).Error; err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{
			"boosts":      entries,                                         // Entries on this page
			"page":        page,                                            // Current page
			"page_size":   pageSize,                                        // Page size
			"total":       total,                                           // Total entries
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize), // Total pages
		}
		// Cache the result for 60 seconds, unless the version is unknown and the page could outlive an invalidation
		if verr == nil {
			if err := utils.SetCache(ctx, rdb, cacheKey, resp, 60*time.Second); err != nil {
				logrus.WithFields(logrus.Fields{"key": cacheKey, "error": err.Error()}).Warn("Boost history cache write failed")
			}
		}
		resp["cached"] = false
		c.JSON(http.StatusOK, resp)
	}
}

// historyVersionTTL outlives every cached history page
const historyVersionTTL = 24 * time.Hour

// boostHistoryVersionKey holds the counter that namespaces a user's cached history pages
func boostHistoryVersionKey(userID uint) string {
	return "boosts:user:" + strconv.Itoa(int(userID)) + ":version"
}

// boostHistoryKey is the cache key of one history page under a version
func boostHistoryKey(userID uint, version int64, page, pageSize int) string {
	return "boosts:user:" + strconv.Itoa(int(userID)) +
		":v" + strconv.FormatInt(version, 10) +
		":page:" + strconv.Itoa(page) + ":size:" + strconv.Itoa(pageSize)
}

// invalidateUser drops the wallet view and abandons every cached history page of a user
func invalidateUser(c *gin.Context, rdb *redis.Client, userID uint) {
	ctx := c.Request.Context()
	if err := utils.DeleteCache(ctx, rdb, walletCacheKey(userID)); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("Cache invalidation failed")
	}
	if err := utils.BumpCacheVersion(ctx, rdb, boostHistoryVersionKey(userID), historyVersionTTL); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Warn("Boost history invalidation failed")
	}
}
