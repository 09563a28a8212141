package engine

import (
	"context"
	"errors"

	"promotion_engine/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Accounts manages the user records the engine needs: signup and tier changes
type Accounts struct {
	db *gorm.DB
}

// NewAccounts constructs an Accounts service
func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// Register creates a free-tier user together with an empty wallet
func (a *Accounts) Register(ctx context.Context, user *domain.User) error {
	if user.Tier == "" {
		user.Tier = domain.TierFree
	}
	if !user.Tier.Valid() {
		return domain.Invalid("tier", domain.ErrInvalidTier)
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Wallet").Create(user).Error; err != nil {
			if isDuplicate(err) {
				return domain.Invalid("username", domain.ErrUsernameTaken)
			}
			return err
		}
		user.Wallet = domain.Wallet{UserID: user.ID}
		return tx.Create(&user.Wallet).Error
	})
}

// ChangeTier applies a subscription lifecycle event. Only future daily claims are affected.
func (a *Accounts) ChangeTier(ctx context.Context, userID uint, tier domain.Tier) (*domain.User, error) {
	if !tier.Valid() {
		return nil, domain.Invalid("tier", domain.ErrInvalidTier)
	}
	var user domain.User
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Invalid("user_id", domain.ErrUnknownUser)
			}
			return err
		}
		previous := user.Tier
		if err := tx.Model(&domain.User{}).Where("id = ?", userID).Update("tier", tier).Error; err != nil {
			return err
		}
		user.Tier = tier
		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"previous": previous,
			"tier":     tier,
		}).Info("Subscription tier changed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
