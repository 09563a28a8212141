package domain

import "time"

// PromotionScore holds the running totals of one entity
type PromotionScore struct {
	EntityType      EntityType `gorm:"type:varchar(20);primaryKey" json:"entity_type"`                        // Entity type
	EntityID        string     `gorm:"type:varchar(64);primaryKey" json:"entity_id"`                          // Entity id
	TotalScore      int64      `gorm:"not null;default:0;index" json:"total_score"`                           // All-time score
	MonthlyScore    int64      `gorm:"not null;default:0" json:"monthly_score"`                               // Score within MonthKey
	MonthKey        string     `gorm:"type:varchar(8);index" json:"month_key"`                                // Month the monthly score belongs to
	WeeklyScore     int64      `gorm:"not null;default:0" json:"weekly_score"`                                // Score within WeekKey
	WeekKey         string     `gorm:"type:varchar(8);index" json:"week_key"`                                 // ISO week the weekly score belongs to
	Past28DaysScore int64      `gorm:"column:past28_days_score;not null;default:0" json:"past_28_days_score"` // Trailing 28 day score
	Name            string     `json:"name"`                                                                  // Display name
	ImageURL        string     `json:"image_url"`                                                             // Display image
	Slug            string     `json:"slug"`                                                                  // Display slug
	Region          string     `gorm:"type:varchar(64);index" json:"region"`                                  // Region for filtering
	LastEventAt     time.Time  `json:"last_event_at"`                                                         // Latest applied ledger time
	UpdatedAt       time.Time  `json:"updated_at"`                                                            // Last mutation
}

// TopPromoter holds the subscription spend of one user
type TopPromoter struct {
	UserID           uint      `gorm:"primaryKey" json:"user_id"`                          // Promoting user
	TotalPointsSpent int64     `gorm:"not null;default:0;index" json:"total_points_spent"` // Subscription points spent
	Tier             Tier      `gorm:"type:varchar(20)" json:"tier"`                       // Latest tier snapshot
	StreakDays       int       `json:"streak_days"`                                        // Latest streak snapshot
	LastSpentAt      time.Time `json:"last_spent_at"`                                      // Time of the snapshot
	UpdatedAt        time.Time `json:"updated_at"`                                         // Last mutation
}

// CatalogEntity mirrors a promotable entity owned by the catalog service
type CatalogEntity struct {
	EntityType EntityType `gorm:"type:varchar(20);primaryKey" json:"entity_type"` // Entity type
	EntityID   string     `gorm:"type:varchar(64);primaryKey" json:"entity_id"`   // Entity id
	Name       string     `json:"name"`                                           // Display name
	ImageURL   string     `json:"image_url"`                                      // Display image
	Slug       string     `json:"slug"`                                           // Display slug
	Region     string     `gorm:"type:varchar(64)" json:"region"`                 // Region
	Active     bool       `gorm:"not null" json:"active"`                         // Promotable flag
	UpdatedAt  time.Time  `json:"updated_at"`                                     // Last sync
}
