package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"strings"  // String manipulation
	"time"     // Time durations

	"promotion_engine/internal/catalog" // Catalog store
	"promotion_engine/internal/domain"  // Importing domain models
	"promotion_engine/internal/scoring" // Aggregator maintenance
	"promotion_engine/internal/utils"   // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
	"gorm.io/gorm"                 // GORM ORM library
)

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID          uint          `json:"id"`           // User ID
	Username    string        `json:"username"`     // Username
	DisplayName string        `json:"display_name"` // Leaderboard name
	Role        string        `json:"role"`         // User role
	Tier        domain.Tier   `json:"tier"`         // Subscription tier
	Wallet      domain.Wallet `json:"wallet"`       // Associated wallet
}

// ListUsersHandler returns users with their tier and wallet
func ListUsersHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, pageSize := pageParams(c) // Parse pagination
		query := db.WithContext(c.Request.Context()).Model(&domain.User{})
		if tier := c.Query("tier"); tier != "" {
			query = query.Where("tier = ?", tier) // Filter by tier
		}
		var total int64 // Total user count
		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			respondError(c, err)
			return
		}
		var users []domain.User // Preload Wallet relation, apply offset and limit for pagination
		if err := query.Session(&gorm.Session{}).Preload("Wallet").Order("id asc").
			Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
			respondError(c, err)
			return
		}
		resp := make([]UserAdminResponse, len(users))
		// Map users to response format
		for i, u := range users {
			resp[i] = UserAdminResponse{
				ID:          u.ID,          // User ID
				Username:    u.Username,    // Username
				DisplayName: u.DisplayName, // Leaderboard name
				Role:        u.Role,        // User role
				Tier:        u.Tier,        // Subscription tier
				Wallet:      u.Wallet,      // Associated wallet
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"users":       resp,                                            // List of users
			"page":        page,                                            // Current page
			"page_size":   pageSize,                                        // Page size
			"total":       total,                                           // Total number of users
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize), // Total pages
		})
	}
}

// ListLedgerHandler returns ledger entries, optionally filtered by user, source, entity type or time range
func ListLedgerHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		// Build cache key from all query params
		var keyParts []string
		for _, k := range []string{"user_id", "source", "entity_type", "from", "to", "page", "page_size"} {
			keyParts = append(keyParts, k+"="+c.DefaultQuery(k, "")) // Append key-value pair
		}
		cacheKey := "admin:ledger:" + strings.Join(keyParts, ":")
		var cached gin.H
		// If cached data found, return it
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			cached["cached"] = true
			c.JSON(http.StatusOK, cached)
			return
		}
		page, pageSize := pageParams(c) // Parse pagination
		query := db.WithContext(ctx).Model(&domain.PromotionLedgerEntry{})
		if v := c.Query("user_id"); v != "" {
			userID, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
				return
			}
			query = query.Where("user_id = ?", userID) // Filter by user ID
		}
		if v := c.Query("source"); v != "" {
			source, err := domain.ParseSource(v)
			if err != nil {
				respondError(c, domain.Invalid("source", err))
				return
			}
			query = query.Where("source = ?", source) // Filter by point source
		}
		if v := c.Query("entity_type"); v != "" {
			query = query.Where("entity_type = ?", v) // Filter by entity type
		}
		for param, cond := range map[string]string{"from": "created_at >= ?", "to": "created_at <= ?"} {
			v := c.Query(param)
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + ", expected RFC3339"})
				return
			}
			query = query.Where(cond, t.UTC()) // Filter by time range
		}
		var total int64 // Total entry count
		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			respondError(c, err)
			return
		}
		var entries []domain.PromotionLedgerEntry
		if err := query.Session(&gorm.Session{}).Order("id desc").
			Offset((page - 1) * pageSize).Limit(pageSize).Find(&entries).Error; err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{
			"entries":     entries,                                         // Ledger entries
			"page":        page,                                            // Current page
			"page_size":   pageSize,                                        // Page size
			"total":       total,                                           // Total number of entries
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize), // Total pages
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, 60*time.Second) // Cache the response for 60 seconds
		resp["cached"] = false
		c.JSON(http.StatusOK, resp)
	}
}

// CatalogRequest is a catalog sync for one promotable entity
type CatalogRequest struct {
	EntityType domain.EntityType `json:"entity_type" binding:"required"` // tour, restaurant or plan
	EntityID   string            `json:"entity_id" binding:"required"`   // Catalog id
	Name       string            `json:"name"`                           // Display name
	ImageURL   string            `json:"image_url"`                      // Display image
	Slug       string            `json:"slug"`                           // URL slug
	Region     string            `json:"region"`                         // Region filter value
	Active     *bool             `json:"active"`                         // Defaults to true
}

// UpsertCatalogHandler creates or updates a promotable entity
func UpsertCatalogHandler(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CatalogRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if !req.EntityType.Valid() {
			respondError(c, domain.Invalid("entity_type", domain.ErrInvalidEntityType))
			return
		}
		entity := domain.CatalogEntity{
			EntityType: req.EntityType,                   // Entity type
			EntityID:   req.EntityID,                     // Entity id
			Name:       req.Name,                         // Display name
			ImageURL:   req.ImageURL,                     // Display image
			Slug:       req.Slug,                         // URL slug
			Region:     req.Region,                       // Region
			Active:     req.Active == nil || *req.Active, // Active unless disabled
		}
		if err := store.Upsert(c.Request.Context(), &entity); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entity)
	}
}

// RebuildHandler re-derives all aggregates from the ledger. dry_run=true only reports mismatches.
func RebuildHandler(agg *scoring.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
		report, err := agg.Rebuild(c.Request.Context(), scoring.RebuildOptions{DryRun: dryRun})
		if err != nil {
			respondError(c, err)
			return
		}
		userID, _ := currentUserID(c)
		logrus.WithFields(logrus.Fields{
			"admin_id":   userID,                 // Requesting admin
			"dry_run":    dryRun,                 // Compare only
			"entries":    report.Entries,         // Ledger entries replayed
			"mismatches": len(report.Mismatches), // Aggregates that disagreed
		}).Info("Aggregate rebuild requested")
		c.JSON(http.StatusOK, report)
	}
}

// ReconcileHandler runs the rolling window reconciliation immediately
func ReconcileHandler(agg *scoring.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := agg.ReconcileWindow(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
