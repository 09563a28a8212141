package engine

import (
	"context"
	"errors"
	"time"

	"promotion_engine/internal/config"
	"promotion_engine/internal/domain"
	"promotion_engine/internal/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimResult describes a successful daily claim
type ClaimResult struct {
	Wallet      domain.Wallet `json:"wallet"`
	Credited    int64         `json:"credited"`
	NextClaimAt time.Time     `json:"next_claim_at"`
}

// TooEarlyError carries the time the next claim opens. It unwraps to domain.ErrClaimTooEarly.
type TooEarlyError struct {
	NextClaimAt time.Time
}

func (e *TooEarlyError) Error() string {
	return domain.ErrClaimTooEarly.Error() + ", next claim at " + e.NextClaimAt.Format(time.RFC3339)
}

func (e *TooEarlyError) Unwrap() error {
	return domain.ErrClaimTooEarly
}

// Claims grants the tier's daily allotment and tracks streaks
type Claims struct {
	db      *gorm.DB
	cfg     config.EngineConfig
	now     func() time.Time
	metrics *metrics.PromotionMetrics
}

// NewClaims constructs the daily claim engine. now defaults to time.Now.
func NewClaims(db *gorm.DB, cfg config.EngineConfig, now func() time.Time, m *metrics.PromotionMetrics) *Claims {
	if now == nil {
		now = time.Now
	}
	return &Claims{db: db, cfg: cfg, now: func() time.Time { return now().UTC() }, metrics: m}
}

// NextStreak returns the streak after a claim at now. A gap up to grace continues the streak, anything longer starts over at 1.
func NextStreak(lastClaimedAt *time.Time, streak int, now time.Time, grace time.Duration) int {
	if lastClaimedAt == nil || now.Sub(*lastClaimedAt) > grace {
		return 1
	}
	return streak + 1
}

// ClaimDailyPoints credits the user's daily points once per cooldown window
func (c *Claims) ClaimDailyPoints(ctx context.Context, userID uint) (*ClaimResult, error) {
	var result *ClaimResult
	err := withRetry(c.cfg.MaxConflictRetries, "claim", c.metrics, func() error {
		r, err := c.claimOnce(ctx, userID)
		result = r
		return err
	})
	switch {
	case err == nil:
		c.metrics.Claim("credited")
		logrus.WithFields(logrus.Fields{
			"user_id":     userID,
			"credited":    result.Credited,
			"balance":     result.Wallet.Balance,
			"streak_days": result.Wallet.StreakDays,
		}).Info("Daily points claimed")
		return result, nil
	case errors.Is(err, domain.ErrClaimTooEarly):
		c.metrics.Claim("too_early")
		logrus.WithFields(logrus.Fields{"user_id": userID}).Info("Daily claim too early")
	case errors.Is(err, domain.ErrConflict):
		c.metrics.Claim("conflict")
		logrus.WithFields(logrus.Fields{"user_id": userID}).Warn("Daily claim conflict")
	case domain.IsValidation(err):
		c.metrics.Claim("invalid")
	default:
		c.metrics.Claim("error")
		logrus.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).Error("Daily claim failed")
	}
	return nil, err
}

func (c *Claims) claimOnce(ctx context.Context, userID uint) (*ClaimResult, error) {
	var result *ClaimResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Invalid("user_id", domain.ErrUnknownUser)
			}
			return err
		}
		var wallet domain.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Invalid("user_id", domain.ErrUnknownUser)
			}
			return err
		}

		now := c.now()
		if wallet.LastClaimedAt != nil {
			next := wallet.LastClaimedAt.UTC().Add(c.cfg.ClaimCooldown)
			if now.Before(next) {
				return &TooEarlyError{NextClaimAt: next}
			}
		}

		points := user.Tier.DailyPoints()
		streak := NextStreak(wallet.LastClaimedAt, wallet.StreakDays, now, c.cfg.StreakGrace)
		res := tx.Model(&domain.Wallet{}).
			Where("id = ? AND version = ?", wallet.ID, wallet.Version).
			Updates(map[string]any{
				"balance":         gorm.Expr("balance + ?", points),
				"last_claimed_at": now,
				"streak_days":     streak,
				"version":         wallet.Version + 1,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStale
		}
		claim := domain.DailyClaim{UserID: userID, Points: points, StreakDays: streak, Tier: user.Tier, ClaimedAt: now}
		if err := tx.Create(&claim).Error; err != nil {
			return err
		}

		wallet.Balance += points
		wallet.LastClaimedAt = &now
		wallet.StreakDays = streak
		wallet.Version++
		wallet.UpdatedAt = now
		result = &ClaimResult{Wallet: wallet, Credited: points, NextClaimAt: now.Add(c.cfg.ClaimCooldown)}
		return nil
	})
	return result, err
}
