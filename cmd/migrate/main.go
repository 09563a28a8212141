package main

import (
	"promotion_engine/internal/config" // Custom import path (Config)
	"promotion_engine/internal/db"     // Custom import path (Database)
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration

	dsn := cfg.DBPath // SQLite file
	if cfg.DBDriver != "sqlite" {
		dsn = db.MySQLDSN(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	db.Migrate(cfg.DBDriver, dsn)
}
