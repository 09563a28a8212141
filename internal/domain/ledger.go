package domain

import "time"

// EntityType is the kind of promotable entity
type EntityType string

// Promotable entity types
const (
	EntityTour       EntityType = "tour"       // Tour
	EntityRestaurant EntityType = "restaurant" // Restaurant
	EntityPlan       EntityType = "plan"       // Travel plan
)

// Valid reports whether t is a promotable entity type
func (t EntityType) Valid() bool {
	switch t {
	case EntityTour, EntityRestaurant, EntityPlan:
		return true
	}
	return false
}

// PromotionLedgerEntry is one immutable boost. Rows are never updated or deleted.
type PromotionLedgerEntry struct {
	ID                uint64     `gorm:"primaryKey" json:"id"`                                                                           // Monotonic primary key
	UserID            uint       `gorm:"not null;index;uniqueIndex:idx_ledger_user_idem,priority:1" json:"user_id"`                      // Spending user
	EntityType        EntityType `gorm:"type:varchar(20);not null;index:idx_ledger_entity,priority:1" json:"entity_type"`                // Boosted entity type
	EntityID          string     `gorm:"type:varchar(64);not null;index:idx_ledger_entity,priority:2" json:"entity_id"`                  // Boosted entity id
	PointsSpent       int64      `gorm:"not null;check:points_spent > 0" json:"points_spent"`                                            // Points spent
	Source            Source     `gorm:"not null" json:"source"`                                                                         // Point source
	BundleID          string     `gorm:"type:varchar(32)" json:"bundle_id,omitempty"`                                                    // Purchased bundle, instant purchases only
	Tier              Tier       `gorm:"type:varchar(20)" json:"tier"`                                                                   // Tier snapshot
	StreakDaysAtSpend int        `json:"streak_days_at_spend"`                                                                           // Streak snapshot
	Region            string     `gorm:"type:varchar(64);index" json:"region"`                                                           // Entity region snapshot
	IdempotencyKey    *string    `gorm:"type:varchar(128);uniqueIndex:idx_ledger_user_idem,priority:2" json:"idempotency_key,omitempty"` // Client retry key
	CreatedAt         time.Time  `gorm:"not null;index;index:idx_ledger_entity,priority:3" json:"created_at"`                            // Spend time
}

// PromotionOutbox queues a ledger entry for aggregation
type PromotionOutbox struct {
	ID            uint64    `gorm:"primaryKey"`                       // Primary key
	LedgerEntryID uint64    `gorm:"uniqueIndex;not null"`             // Ledger entry awaiting aggregation
	Bucket        int       `gorm:"index:idx_outbox_bucket;not null"` // Entity hash bucket, shard is Bucket mod shard count
	CreatedAt     time.Time // Enqueue time
}
