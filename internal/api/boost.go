package api

import (
	"net/http" // HTTP status codes

	"promotion_engine/internal/domain" // Importing domain models
	"promotion_engine/internal/engine" // Transaction processor

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
)

// BoostRequest is a subscription boost submitted by a signed-in user
type BoostRequest struct {
	EntityType domain.EntityType `json:"entity_type" binding:"required"` // tour, restaurant or plan
	EntityID   string            `json:"entity_id" binding:"required"`   // Catalog id
	Points     int64             `json:"points" binding:"required"`      // Points to spend
}

// BoostHandler spends wallet points on an entity
func BoostHandler(processor *engine.Processor, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req BoostRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		result, err := processor.ApplyBoost(c.Request.Context(), engine.BoostRequest{
			UserID:         userID,                         // Spending user
			EntityType:     req.EntityType,                 // Boosted entity type
			EntityID:       req.EntityID,                   // Boosted entity id
			Points:         req.Points,                     // Points to spend
			Source:         domain.SourceSubscription,      // Wallet points
			IdempotencyKey: c.GetHeader("Idempotency-Key"), // Optional client retry key
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if result.Replayed {
			c.JSON(http.StatusOK, result) // Original boost, nothing charged
			return
		}
		invalidateUser(c, rdb, userID) // Balance and history changed
		c.JSON(http.StatusCreated, result)
	}
}

// BundlesHandler lists the purchasable point bundles
func BundlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"bundles": domain.Bundles})
	}
}
