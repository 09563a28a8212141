package domain

import "time"

// Wallet Model
type Wallet struct {
	ID            uint       `gorm:"primaryKey" json:"id"`                                 // Primary key
	UserID        uint       `gorm:"uniqueIndex" json:"user_id"`                           // Foreign key to User
	Balance       int64      `gorm:"not null;default:0;check:balance >= 0" json:"balance"` // Unspent subscription points
	LastClaimedAt *time.Time `json:"last_claimed_at"`                                      // Last successful daily claim
	StreakDays    int        `gorm:"not null;default:0" json:"streak_days"`                // Consecutive claim streak
	Version       uint       `gorm:"not null;default:0" json:"-"`                          // Optimistic lock counter
	UpdatedAt     time.Time  `json:"updated_at"`                                           // Last mutation
}

// DailyClaim records one successful daily claim
type DailyClaim struct {
	ID         uint      `gorm:"primaryKey" json:"id"`          // Primary key
	UserID     uint      `gorm:"index;not null" json:"user_id"` // Claiming user
	Points     int64     `gorm:"not null" json:"points"`        // Points credited
	StreakDays int       `gorm:"not null" json:"streak_days"`   // Streak after the claim
	Tier       Tier      `gorm:"type:varchar(20)" json:"tier"`  // Tier at claim time
	ClaimedAt  time.Time `gorm:"index" json:"claimed_at"`       // Claim time
}
