package api

import (
	"net/http" // HTTP status codes

	"promotion_engine/internal/domain" // Importing domain models
	"promotion_engine/internal/engine" // Processor and accounts

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// InstantBoostEvent is posted by the payment processor once a bundle purchase settles
type InstantBoostEvent struct {
	PaymentID  string            `json:"payment_id" binding:"required"`  // Processor payment id, used as idempotency key
	UserID     uint              `json:"user_id" binding:"required"`     // Buyer
	EntityType domain.EntityType `json:"entity_type" binding:"required"` // Boosted entity type
	EntityID   string            `json:"entity_id" binding:"required"`   // Boosted entity id
	BundleID   string            `json:"bundle_id" binding:"required"`   // Purchased bundle
}

// SubscriptionEvent is posted by the payment processor on a tier change
type SubscriptionEvent struct {
	UserID uint        `json:"user_id" binding:"required"` // Subscriber
	Tier   domain.Tier `json:"tier" binding:"required"`    // New tier
}

// InstantBoostWebhookHandler applies a paid bundle directly to an entity. Redelivery is a no-op.
func InstantBoostWebhookHandler(processor *engine.Processor, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var evt InstantBoostEvent // Bind JSON request to struct
		if err := c.ShouldBindJSON(&evt); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event"})
			return
		}
		result, err := processor.ApplyBoost(c.Request.Context(), engine.BoostRequest{
			UserID:         evt.UserID,                   // Buyer
			EntityType:     evt.EntityType,               // Boosted entity type
			EntityID:       evt.EntityID,                 // Boosted entity id
			Source:         domain.SourceInstantPurchase, // Never touches the wallet
			BundleID:       evt.BundleID,                 // Points come from the bundle
			IdempotencyKey: "payment:" + evt.PaymentID,   // One ledger entry per payment
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"payment_id": evt.PaymentID, // Processor payment id
				"user_id":    evt.UserID,    // Buyer
				"error":      err.Error(),   // Error message
			}).Warn("Instant boost webhook rejected")
			respondError(c, err)
			return
		}
		if !result.Replayed {
			invalidateUser(c, rdb, evt.UserID) // History changed
		}
		c.JSON(http.StatusOK, result)
	}
}

// SubscriptionWebhookHandler switches a user's tier for future daily claims
func SubscriptionWebhookHandler(accounts *engine.Accounts, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var evt SubscriptionEvent // Bind JSON request to struct
		if err := c.ShouldBindJSON(&evt); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event"})
			return
		}
		user, err := accounts.ChangeTier(c.Request.Context(), evt.UserID, evt.Tier)
		if err != nil {
			respondError(c, err)
			return
		}
		invalidateUser(c, rdb, user.ID) // Wallet view carries the tier
		c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "tier": user.Tier, "daily_points": user.Tier.DailyPoints()})
	}
}
