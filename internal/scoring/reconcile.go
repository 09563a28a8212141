package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promotion_engine/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DriftReport summarises one rolling window reconciliation
type DriftReport struct {
	At        time.Time `json:"at"`
	Checked   int       `json:"checked"`
	Corrected int       `json:"corrected"`
}

type entityKey struct {
	EntityType domain.EntityType
	EntityID   string
}

// ReconcileWindow re-sums the rolling window of every entity from the ledger and corrects stored values that drifted.
// Entries still waiting in the outbox are excluded since the drain will add them.
// The first pass only nominates entities; each correction re-reads the ledger under the score row lock.
func (a *Aggregator) ReconcileWindow(ctx context.Context) (DriftReport, error) {
	unlock := a.lockAll()
	defer unlock()

	now := a.now()
	report := DriftReport{At: now}
	expected, err := windowSums(a.db.WithContext(ctx), now, nil)
	if err != nil {
		return report, err
	}
	actual, err := a.storedWindows(ctx)
	if err != nil {
		return report, err
	}
	for k := range expected {
		if _, ok := actual[k]; !ok {
			actual[k] = 0
		}
	}

	for k, have := range actual {
		report.Checked++
		if have == expected[k] {
			continue
		}
		fixed, err := a.correctWindow(ctx, k, now)
		if err != nil {
			return report, fmt.Errorf("correct %s/%s: %w", k.EntityType, k.EntityID, err)
		}
		if fixed {
			report.Corrected++
		}
	}
	a.metrics.DriftCorrected(report.Corrected)
	return report, nil
}

// windowSums totals the rolling window per entity, skipping entries still in the outbox. A non-nil only narrows it to one entity.
func windowSums(db *gorm.DB, now time.Time, only *entityKey) (map[entityKey]int64, error) {
	var sums []struct {
		EntityType domain.EntityType
		EntityID   string
		Total      int64
	}
	pending := db.Session(&gorm.Session{NewDB: true}).Model(&domain.PromotionOutbox{}).Select("ledger_entry_id")
	q := db.Model(&domain.PromotionLedgerEntry{}).
		Select("entity_type, entity_id, SUM(points_spent) AS total").
		Where("created_at >= ? AND created_at <= ?", now.Add(-Window), now).
		Where("id NOT IN (?)", pending)
	if only != nil {
		q = q.Where("entity_type = ? AND entity_id = ?", only.EntityType, only.EntityID)
	}
	if err := q.Group("entity_type, entity_id").Scan(&sums).Error; err != nil {
		return nil, fmt.Errorf("sum rolling window: %w", err)
	}
	out := make(map[entityKey]int64, len(sums))
	for _, s := range sums {
		out[entityKey{s.EntityType, s.EntityID}] = s.Total
	}
	return out, nil
}

func (a *Aggregator) storedWindows(ctx context.Context) (map[entityKey]int64, error) {
	var stored []domain.PromotionScore
	if err := a.db.WithContext(ctx).Select("entity_type, entity_id, past28_days_score").
		Where("past28_days_score <> 0").
		Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("load rolling scores: %w", err)
	}
	out := make(map[entityKey]int64, len(stored))
	for _, s := range stored {
		out[entityKey{s.EntityType, s.EntityID}] = s.Past28DaysScore
	}
	return out, nil
}

// correctWindow compares and fixes one entity inside a transaction holding its score row lock.
// A drain from any process either committed before the lock (its outbox row is gone and the entry is summed)
// or waits behind it (its outbox row is still visible and the entry is skipped), so the two never disagree.
func (a *Aggregator) correctWindow(ctx context.Context, k entityKey, now time.Time) (bool, error) {
	corrected := false
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var score domain.PromotionScore
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("entity_type = ? AND entity_id = ?", k.EntityType, k.EntityID).
			Take(&score).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // the first drain of the entity creates the row
		}
		if err != nil {
			return err
		}
		sums, err := windowSums(tx, now, &k)
		if err != nil {
			return err
		}
		want := sums[k]
		if score.Past28DaysScore == want {
			return nil
		}
		if err := tx.Model(&domain.PromotionScore{}).
			Where("entity_type = ? AND entity_id = ?", k.EntityType, k.EntityID).
			Update("past28_days_score", want).Error; err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"entity_type": k.EntityType,
			"entity_id":   k.EntityID,
			"stored":      score.Past28DaysScore,
			"ledger":      want,
		}).Warn("Aggregate drift corrected")
		corrected = true
		return nil
	})
	return corrected, err
}

// SchedulerConfig configures the rolling window reconciliation scheduler.
type SchedulerConfig struct {
	Aggregator *Aggregator
	Interval   time.Duration
}

// Scheduler executes reconciliation on a fixed cadence.
type Scheduler struct {
	aggregator *Aggregator
	interval   time.Duration
}

// NewScheduler constructs a scheduler, defaulting to a five minute cadence.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{aggregator: cfg.Aggregator, interval: interval}
}

// Start runs reconciliation every interval until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.aggregator == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.aggregator.ReconcileWindow(ctx)
			if err != nil {
				logrus.WithFields(logrus.Fields{"error": err.Error()}).Error("Rolling window reconcile failed")
				continue
			}
			logrus.WithFields(logrus.Fields{
				"checked":   report.Checked,
				"corrected": report.Corrected,
			}).Debug("Rolling window reconciled")
		}
	}
}
