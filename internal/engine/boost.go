package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"promotion_engine/internal/config"
	"promotion_engine/internal/domain"
	"promotion_engine/internal/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalog answers existence checks for promotable entities
type Catalog interface {
	Lookup(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.CatalogEntity, error)
}

// Outbox queues ledger entries for aggregation
type Outbox interface {
	Enqueue(tx *gorm.DB, entry *domain.PromotionLedgerEntry) error
	Notify()
}

// BoostRequest is one attempt to spend points on an entity
type BoostRequest struct {
	UserID         uint
	EntityType     domain.EntityType
	EntityID       string
	Points         int64
	Source         domain.Source
	BundleID       string // Required for instant purchases
	IdempotencyKey string // Optional client retry key
}

// BoostResult is the outcome of an applied boost
type BoostResult struct {
	Entry    domain.PromotionLedgerEntry `json:"entry"`
	Balance  *int64                      `json:"balance,omitempty"` // Wallet balance after a subscription boost
	Replayed bool                        `json:"replayed"`          // True when the idempotency key matched an earlier boost
}

// Processor validates boosts and commits ledger entry, wallet debit and outbox row together
type Processor struct {
	db      *gorm.DB
	catalog Catalog
	outbox  Outbox
	cfg     config.EngineConfig
	now     func() time.Time
	metrics *metrics.PromotionMetrics
}

// NewProcessor constructs the transaction processor. now defaults to time.Now.
func NewProcessor(db *gorm.DB, catalog Catalog, outbox Outbox, cfg config.EngineConfig, now func() time.Time, m *metrics.PromotionMetrics) *Processor {
	if now == nil {
		now = time.Now
	}
	return &Processor{
		db:      db,
		catalog: catalog,
		outbox:  outbox,
		cfg:     cfg,
		now:     func() time.Time { return now().UTC() },
		metrics: m,
	}
}

// ApplyBoost spends points on an entity. The boost either fully applies or has no effect.
func (p *Processor) ApplyBoost(ctx context.Context, req BoostRequest) (*BoostResult, error) {
	// a redelivered request replays even if the entity has since been deactivated
	if req.IdempotencyKey != "" {
		prior, err := p.replay(ctx, req)
		if err != nil {
			p.reject(req, err)
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	entity, err := p.validate(ctx, &req)
	if err != nil {
		p.reject(req, err)
		return nil, err
	}

	var result *BoostResult
	err = withRetry(p.cfg.MaxConflictRetries, "boost", p.metrics, func() error {
		r, err := p.applyOnce(ctx, req, entity)
		result = r
		return err
	})
	if err != nil && req.IdempotencyKey != "" && isDuplicate(err) {
		// a concurrent request with the same key won the insert
		if prior, ferr := p.replay(ctx, req); ferr != nil {
			err = ferr
		} else if prior != nil {
			return prior, nil
		}
	}
	if err != nil {
		p.reject(req, err)
		return nil, err
	}

	p.metrics.BoostApplied(req.Source.String(), string(req.EntityType), req.Points)
	logrus.WithFields(logrus.Fields{
		"ledger_id":   result.Entry.ID,
		"user_id":     req.UserID,
		"entity_type": req.EntityType,
		"entity_id":   req.EntityID,
		"points":      req.Points,
		"source":      req.Source.String(),
		"timestamp":   result.Entry.CreatedAt.Format(time.RFC3339),
	}).Info("Boost applied")
	p.outbox.Notify()
	return result, nil
}

// validate rejects bad input before any write and resolves bundle points
func (p *Processor) validate(ctx context.Context, req *BoostRequest) (*domain.CatalogEntity, error) {
	if !req.EntityType.Valid() {
		return nil, domain.Invalid("entity_type", domain.ErrInvalidEntityType)
	}
	switch req.Source {
	case domain.SourceSubscription:
		if req.BundleID != "" {
			return nil, domain.Invalid("bundle_id", domain.ErrInvalidBundle)
		}
	case domain.SourceInstantPurchase:
		bundle, ok := domain.LookupBundle(req.BundleID)
		if !ok {
			return nil, domain.Invalid("bundle_id", domain.ErrInvalidBundle)
		}
		if req.Points != 0 && req.Points != bundle.Points {
			return nil, domain.Invalid("points", domain.ErrInvalidBundle)
		}
		req.Points = bundle.Points
	default:
		return nil, domain.Invalid("source", domain.ErrInvalidSource)
	}
	if req.Points < p.cfg.MinBoostSpend {
		return nil, domain.Invalid("points", domain.ErrBelowMinimumSpend)
	}
	entity, err := p.catalog.Lookup(ctx, req.EntityType, req.EntityID)
	if errors.Is(err, domain.ErrUnknownEntity) {
		return nil, domain.Invalid("entity_id", domain.ErrUnknownEntity)
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (p *Processor) applyOnce(ctx context.Context, req BoostRequest, entity *domain.CatalogEntity) (*BoostResult, error) {
	var result *BoostResult
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user domain.User
		if err := tx.First(&user, req.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Invalid("user_id", domain.ErrUnknownUser)
			}
			return err
		}

		walletQuery := tx
		if req.Source == domain.SourceSubscription {
			walletQuery = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var wallet domain.Wallet
		if err := walletQuery.Where("user_id = ?", req.UserID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.Invalid("user_id", domain.ErrUnknownUser)
			}
			return err
		}

		now := p.now()
		result = &BoostResult{}
		if req.Source == domain.SourceSubscription {
			if wallet.Balance < req.Points {
				return domain.ErrInsufficientBalance
			}
			res := tx.Model(&domain.Wallet{}).
				Where("id = ? AND version = ? AND balance >= ?", wallet.ID, wallet.Version, req.Points).
				Updates(map[string]any{
					"balance":    gorm.Expr("balance - ?", req.Points),
					"version":    wallet.Version + 1,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStale
			}
			balance := wallet.Balance - req.Points
			result.Balance = &balance
		}

		entry := domain.PromotionLedgerEntry{
			UserID:            req.UserID,
			EntityType:        req.EntityType,
			EntityID:          req.EntityID,
			PointsSpent:       req.Points,
			Source:            req.Source,
			BundleID:          req.BundleID,
			Tier:              user.Tier,
			StreakDaysAtSpend: wallet.StreakDays,
			Region:            entity.Region,
			CreatedAt:         now,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			entry.IdempotencyKey = &key
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := p.outbox.Enqueue(tx, &entry); err != nil {
			return err
		}
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay returns the earlier boost recorded under the request's key, or nil.
// A key reused for a different entity, source or amount is a validation error.
func (p *Processor) replay(ctx context.Context, req BoostRequest) (*BoostResult, error) {
	var entry domain.PromotionLedgerEntry
	err := p.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", req.UserID, req.IdempotencyKey).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !req.sameBoost(entry) {
		return nil, domain.Invalid("idempotency_key", domain.ErrKeyReused)
	}
	logrus.WithFields(logrus.Fields{
		"ledger_id":       entry.ID,
		"user_id":         req.UserID,
		"idempotency_key": req.IdempotencyKey,
	}).Info("Boost replayed")
	return &BoostResult{Entry: entry, Replayed: true}, nil
}

// sameBoost reports whether a stored entry records this request. Instant purchases may omit points.
func (r BoostRequest) sameBoost(e domain.PromotionLedgerEntry) bool {
	if e.Source != r.Source || e.EntityType != r.EntityType || e.EntityID != r.EntityID || e.BundleID != r.BundleID {
		return false
	}
	return r.Points == e.PointsSpent || (r.Source == domain.SourceInstantPurchase && r.Points == 0)
}

// reject logs and counts a refused boost; expected conditions are not failures
func (p *Processor) reject(req BoostRequest, err error) {
	fields := logrus.Fields{
		"user_id":     req.UserID,
		"entity_type": req.EntityType,
		"entity_id":   req.EntityID,
		"points":      req.Points,
		"source":      req.Source.String(),
		"reason":      err.Error(),
	}
	switch {
	case errors.Is(err, domain.ErrBelowMinimumSpend):
		p.metrics.BoostRejected("below_minimum_spend")
	case errors.Is(err, domain.ErrUnknownEntity):
		p.metrics.BoostRejected("unknown_entity")
	case errors.Is(err, domain.ErrInvalidBundle):
		p.metrics.BoostRejected("invalid_bundle")
	case errors.Is(err, domain.ErrKeyReused):
		p.metrics.BoostRejected("key_reused")
	case errors.Is(err, domain.ErrInsufficientBalance):
		p.metrics.BoostRejected("insufficient_balance")
	case errors.Is(err, domain.ErrConflict):
		p.metrics.BoostRejected("conflict")
		logrus.WithFields(fields).Warn("Boost conflict")
		return
	case domain.IsValidation(err):
		p.metrics.BoostRejected("invalid")
	default:
		p.metrics.BoostRejected("error")
		logrus.WithFields(fields).Error("Boost failed")
		return
	}
	logrus.WithFields(fields).Info("Boost rejected")
}

// isDuplicate detects unique constraint violations across dialects
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
