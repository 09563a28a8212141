package db

import (
	"promotion_engine/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus"
	"gorm.io/gorm" // GORM ORM library
)

// Models lists every persisted record
var Models = []any{
	&domain.User{},
	&domain.Wallet{},
	&domain.DailyClaim{},
	&domain.PromotionLedgerEntry{},
	&domain.PromotionOutbox{},
	&domain.PromotionScore{},
	&domain.TopPromoter{},
	&domain.CatalogEntity{},
}

// AutoMigrate creates or updates the schema on an open connection
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...) // Create tables, columns and indexes
}

// Migrate performs automatic migration for the database schema
func Migrate(driver, dsn string) {
	db, err := Open(driver, dsn) // Open a connection to the database
	if err != nil {
		logrus.Fatalf("failed to connect database: %v", err) // Log fatal error if connection fails
	}
	if err := AutoMigrate(db); err != nil {
		logrus.Fatalf("migration failed: %v", err) // Log fatal error if migration fails
	}
	logrus.Info("Migration completed.") // Log successful migration
}
