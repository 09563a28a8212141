// Package testutil provides database fixtures and a controllable clock for tests.
package testutil

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"promotion_engine/internal/db"
	"promotion_engine/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory SQLite database with the full schema
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.Open("sqlite", dsn)
	require.NoError(t, err, "open sqlite")
	require.NoError(t, db.AutoMigrate(gdb), "migrate")
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// CreateUser inserts a user with a wallet holding balance
func CreateUser(t *testing.T, gdb *gorm.DB, name string, tier domain.Tier, balance int64) *domain.User {
	t.Helper()
	user := &domain.User{Username: name, Password: "x", DisplayName: name, Tier: tier}
	require.NoError(t, gdb.Omit("Wallet").Create(user).Error)
	user.Wallet = domain.Wallet{UserID: user.ID, Balance: balance}
	require.NoError(t, gdb.Create(&user.Wallet).Error)
	return user
}

// CreateEntity inserts an active catalog entity
func CreateEntity(t *testing.T, gdb *gorm.DB, entityType domain.EntityType, id, region string) *domain.CatalogEntity {
	t.Helper()
	entity := &domain.CatalogEntity{EntityType: entityType, EntityID: id, Name: "Entity " + id, Slug: id, Region: region, Active: true}
	require.NoError(t, gdb.Create(entity).Error)
	return entity
}

// Wallet reloads a user's wallet
func Wallet(t *testing.T, gdb *gorm.DB, userID uint) domain.Wallet {
	t.Helper()
	var w domain.Wallet
	require.NoError(t, gdb.Where("user_id = ?", userID).First(&w).Error)
	return w
}

// Score reloads an entity score, zero when absent
func Score(t *testing.T, gdb *gorm.DB, entityType domain.EntityType, id string) domain.PromotionScore {
	t.Helper()
	var s domain.PromotionScore
	err := gdb.Where("entity_type = ? AND entity_id = ?", entityType, id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PromotionScore{EntityType: entityType, EntityID: id}
	}
	require.NoError(t, err)
	return s
}

// Promoter reloads a user's top promoter row, zero when absent
func Promoter(t *testing.T, gdb *gorm.DB, userID uint) domain.TopPromoter {
	t.Helper()
	var p domain.TopPromoter
	err := gdb.Where("user_id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.TopPromoter{UserID: userID}
	}
	require.NoError(t, err)
	return p
}
