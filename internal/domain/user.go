package domain

import "time"

// Tier is a subscription tier
type Tier string

// Subscription tiers
const (
	TierFree       Tier = "free"       // Free tier
	TierPro        Tier = "pro"        // Pro tier
	TierProPlus    Tier = "pro_plus"   // Pro+ tier
	TierEnterprise Tier = "enterprise" // Enterprise tier
)

// User roles
const (
	RoleUser  = "user"  // Regular member
	RoleAdmin = "admin" // Catalog and maintenance access
)

// TierPlan holds the allowance granted by a tier
type TierPlan struct {
	DailyPoints int64 `json:"daily_points"` // Points credited per daily claim
}

// TierPlans maps every tier to its plan
var TierPlans = map[Tier]TierPlan{
	TierFree:       {DailyPoints: 50},
	TierPro:        {DailyPoints: 200},
	TierProPlus:    {DailyPoints: 500},
	TierEnterprise: {DailyPoints: 1000},
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	_, ok := TierPlans[t]
	return ok
}

// DailyPoints returns the daily allowance for the tier, zero when unknown
func (t Tier) DailyPoints() int64 {
	return TierPlans[t].DailyPoints
}

// User Model
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`                                    // Primary key
	Username    string    `gorm:"unique;not null" json:"username"`                         // Unique username
	Password    string    `gorm:"not null" json:"-"`                                       // Hashed password
	Role        string    `gorm:"default:user" json:"role"`                                // Role: user or admin
	DisplayName string    `json:"display_name"`                                            // Name shown on leaderboards
	Tier        Tier      `gorm:"type:varchar(20);not null;default:free" json:"tier"`      // Subscription tier
	CreatedAt   time.Time `json:"created_at"`                                              // Signup time
	Wallet      Wallet    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"` // One-to-one relationship with Wallet
}
