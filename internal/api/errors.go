package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"promotion_engine/internal/domain" // Domain errors
	"promotion_engine/internal/engine" // Claim errors

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// respondError maps engine errors onto HTTP responses
func respondError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	var tooEarly *engine.TooEarlyError
	switch {
	case errors.As(err, &tooEarly):
		// Claim window still closed
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Daily points already claimed", "next_claim_at": tooEarly.NextClaimAt})
	case errors.Is(err, domain.ErrClaimTooEarly):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Daily points already claimed"})
	case errors.Is(err, domain.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient balance"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Concurrent update, please retry"})
	case errors.Is(err, domain.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, domain.ErrUnknownEntity):
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	default:
		// Unexpected failure
		logrus.WithFields(logrus.Fields{
			"path":  c.FullPath(), // Route
			"error": err.Error(),  // Error message
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// pageParams reads page and page_size query parameters, defaulting to page 1 of 20
func pageParams(c *gin.Context) (page, pageSize int) {
	page = 1      // Default page
	pageSize = 20 // Default page size
	// If page exists in query
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v // Set page if valid
		}
	}
	// If page_size exists in query
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v // Set page size if valid
		}
	}
	return page, pageSize
}

// currentUserID reads the authenticated user id set by the JWT middleware
func currentUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("userID") // Get userID from context
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
