package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"promotion_engine/internal/domain"      // Importing domain models
	"promotion_engine/internal/leaderboard" // Leaderboard query service

	"github.com/gin-gonic/gin" // Gin web framework
)

// limitOffset reads limit and offset query parameters; the service clamps them
func limitOffset(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))   // Zero means default
	offset, _ = strconv.Atoi(c.Query("offset")) // Negative is clamped
	return limit, offset
}

// LeaderboardHandler ranks one entity type by the requested score window
func LeaderboardHandler(svc *leaderboard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		scoreType, err := leaderboard.ParseScoreType(c.Query("score_type"))
		if err != nil {
			respondError(c, err)
			return
		}
		limit, offset := limitOffset(c)
		page, err := svc.GetLeaderboard(c.Request.Context(), leaderboard.Query{
			EntityType: domain.EntityType(c.Param("entityType")), // Path parameter
			ScoreType:  scoreType,                                // Window
			Region:     c.Query("region"),                        // Optional region filter
			Limit:      limit,                                    // Page size
			Offset:     offset,                                   // Page start
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// TopPromotersHandler ranks users by subscription points spent
func TopPromotersHandler(svc *leaderboard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := limitOffset(c)
		page, err := svc.GetTopPromoters(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}
