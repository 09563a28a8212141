package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"promotion_engine/internal/domain"
	"promotion_engine/internal/metrics"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultBatchSize = 100

// outboxBuckets is the fixed hash space stored on outbox rows. It never depends on the shard count.
const outboxBuckets = 1 << 16

// errAlreadyApplied marks an outbox row consumed by another worker
var errAlreadyApplied = errors.New("outbox entry already applied")

// Config captures the dependencies required to construct an Aggregator.
type Config struct {
	DB        *gorm.DB
	Shards    int
	Poll      time.Duration
	BatchSize int
	Now       func() time.Time
	Metrics   *metrics.PromotionMetrics
}

// Aggregator folds ledger entries into PromotionScore and TopPromoter rows.
//
// Every ledger entry is paired with a PromotionOutbox row written in the same
// transaction. The row records the entity's hash bucket; shard i drains the
// buckets congruent to i modulo the shard count, in ledger id order. All rows
// of one entity share a bucket, so rollover detection observes them in commit
// order whatever shard count the process starts with, while unrelated
// entities are aggregated in parallel.
type Aggregator struct {
	db        *gorm.DB
	shards    []sync.Mutex
	poll      time.Duration
	batchSize int
	now       func() time.Time
	metrics   *metrics.PromotionMetrics
	wake      chan struct{}
}

// New constructs an Aggregator with sane defaults.
func New(cfg Config) *Aggregator {
	shards := cfg.Shards
	if shards <= 0 {
		shards = 1
	}
	poll := cfg.Poll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		db:        cfg.DB,
		shards:    make([]sync.Mutex, shards),
		poll:      poll,
		batchSize: batch,
		now:       func() time.Time { return now().UTC() },
		metrics:   cfg.Metrics,
		wake:      make(chan struct{}, 1),
	}
}

// BucketFor hashes an entity into the outbox bucket space
func BucketFor(entityType domain.EntityType, entityID string) int {
	return int(xxhash.Sum64String(string(entityType)+":"+entityID) % outboxBuckets)
}

// ShardFor maps an entity onto one of n shards
func ShardFor(entityType domain.EntityType, entityID string, n int) int {
	if n <= 1 {
		return 0
	}
	return BucketFor(entityType, entityID) % n
}

// Enqueue queues a freshly written ledger entry. It must run inside the ledger transaction.
func (a *Aggregator) Enqueue(tx *gorm.DB, entry *domain.PromotionLedgerEntry) error {
	row := domain.PromotionOutbox{
		LedgerEntryID: entry.ID,
		Bucket:        BucketFor(entry.EntityType, entry.EntityID),
		CreatedAt:     entry.CreatedAt,
	}
	return tx.Create(&row).Error
}

// Notify wakes the background loop without blocking
func (a *Aggregator) Notify() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox on every wakeup or poll tick until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.wake:
		}
		if _, err := a.Drain(ctx); err != nil && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Error("Aggregate drain failed")
		}
	}
}

// Drain applies every pending outbox row and returns how many were applied.
func (a *Aggregator) Drain(ctx context.Context) (int, error) {
	counts := make([]int, len(a.shards))
	g, gctx := errgroup.WithContext(ctx)
	for shard := range a.shards {
		g.Go(func() error {
			n, err := a.drainShard(gctx, shard)
			counts[shard] = n
			return err
		})
	}
	err := g.Wait()
	total := 0
	for _, n := range counts {
		total += n
	}
	a.metrics.EventsApplied(total)
	if pending, perr := a.Pending(ctx); perr == nil {
		a.metrics.SetOutboxBacklog(pending)
	}
	return total, err
}

// Pending counts outbox rows awaiting aggregation
func (a *Aggregator) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&domain.PromotionOutbox{}).Count(&n).Error
	return n, err
}

func (a *Aggregator) drainShard(ctx context.Context, shard int) (int, error) {
	a.shards[shard].Lock()
	defer a.shards[shard].Unlock()

	applied := 0
	var lastID uint64
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		var rows []domain.PromotionOutbox
		if err := a.db.WithContext(ctx).
			Where("bucket % ? = ? AND id > ?", len(a.shards), shard, lastID).
			Order("id asc").
			Limit(a.batchSize).
			Find(&rows).Error; err != nil {
			return applied, fmt.Errorf("load outbox shard %d: %w", shard, err)
		}
		if len(rows) == 0 {
			return applied, nil
		}
		for _, row := range rows {
			err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return a.applyOutbox(tx, row)
			})
			switch {
			case errors.Is(err, errAlreadyApplied):
			case err != nil:
				// stop the shard so later entries of the entity wait for this one
				return applied, fmt.Errorf("apply ledger entry %d: %w", row.LedgerEntryID, err)
			default:
				applied++
			}
			lastID = row.ID
		}
	}
}

// applyOutbox claims the outbox row by deleting it first; a concurrent consumer sees zero rows and backs off.
func (a *Aggregator) applyOutbox(tx *gorm.DB, row domain.PromotionOutbox) error {
	res := tx.Delete(&domain.PromotionOutbox{}, row.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errAlreadyApplied
	}
	var entry domain.PromotionLedgerEntry
	if err := tx.First(&entry, row.LedgerEntryID).Error; err != nil {
		return err
	}
	if err := a.RecordEvent(tx, &entry); err != nil {
		return err
	}
	return a.recordPromoter(tx, &entry)
}

// RecordEvent folds one ledger entry into the entity's PromotionScore within tx.
func (a *Aggregator) RecordEvent(tx *gorm.DB, entry *domain.PromotionLedgerEntry) error {
	var score domain.PromotionScore
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("entity_type = ? AND entity_id = ?", entry.EntityType, entry.EntityID).
		Take(&score).Error
	created := false
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		score = domain.PromotionScore{EntityType: entry.EntityType, EntityID: entry.EntityID, Region: entry.Region}
		created = true
	case err != nil:
		return err
	}

	Apply(&score, entry.PointsSpent, entry.CreatedAt, a.now())
	if err := refreshMetadata(tx, &score); err != nil {
		return err
	}

	if created {
		return tx.Create(&score).Error
	}
	return tx.Save(&score).Error
}

// recordPromoter applies the user-level side of an entry. Only subscription points count toward promoter standing.
func (a *Aggregator) recordPromoter(tx *gorm.DB, entry *domain.PromotionLedgerEntry) error {
	switch entry.Source {
	case domain.SourceSubscription:
		return upsertPromoter(tx, entry)
	case domain.SourceInstantPurchase:
		return nil
	default:
		return fmt.Errorf("%w: %d", domain.ErrInvalidSource, entry.Source)
	}
}

func upsertPromoter(tx *gorm.DB, entry *domain.PromotionLedgerEntry) error {
	row := domain.TopPromoter{
		UserID:           entry.UserID,
		TotalPointsSpent: entry.PointsSpent,
		Tier:             entry.Tier,
		StreakDays:       entry.StreakDaysAtSpend,
		LastSpentAt:      entry.CreatedAt,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_points_spent": gorm.Expr("total_points_spent + ?", entry.PointsSpent),
		}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	// snapshot fields only move forward in time
	return tx.Model(&domain.TopPromoter{}).
		Where("user_id = ? AND last_spent_at <= ?", entry.UserID, entry.CreatedAt).
		Updates(map[string]any{
			"tier":          entry.Tier,
			"streak_days":   entry.StreakDaysAtSpend,
			"last_spent_at": entry.CreatedAt,
		}).Error
}

// refreshMetadata copies display fields from the catalog mirror when the entity is known there
func refreshMetadata(tx *gorm.DB, score *domain.PromotionScore) error {
	var cat domain.CatalogEntity
	err := tx.Where("entity_type = ? AND entity_id = ?", score.EntityType, score.EntityID).Take(&cat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	score.Name = cat.Name
	score.ImageURL = cat.ImageURL
	score.Slug = cat.Slug
	if cat.Region != "" {
		score.Region = cat.Region
	}
	return nil
}

// lockAll takes every shard lock in index order
func (a *Aggregator) lockAll() func() {
	for i := range a.shards {
		a.shards[i].Lock()
	}
	return func() {
		for i := len(a.shards) - 1; i >= 0; i-- {
			a.shards[i].Unlock()
		}
	}
}
