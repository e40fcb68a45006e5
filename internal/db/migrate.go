package db

import (
	"fmt"                        // DSN formatting
	"gold_tally/internal/config" // Connection settings
	"gold_tally/internal/domain" // Importing domain models
	"time"                       // Connection lifetime

	"github.com/sirupsen/logrus"

	"gorm.io/driver/mysql" // MySQL driver for GORM
	"gorm.io/gorm"         // GORM ORM library
	"gorm.io/gorm/logger"  // GORM query logging
)

// Models lists every table the engine owns, in creation order
func Models() []any {
	return []any{
		&domain.TallyTransaction{},
		&domain.GoldBar{},
		&domain.TallyEvent{},
		&domain.GoldWallet{},
		&domain.VaultLocation{},
		&domain.CustodyBar{},
		&domain.ProfitEntry{},
		&domain.CashLedgerEntry{},
		&domain.ConversionRequest{},
	}
}

// DSN builds the MySQL Data Source Name from the configuration
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC", cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// LogLevel is quieter in production: errors only there, slow queries too in development
func LogLevel(cfg *config.Config) logger.LogLevel {
	if cfg.IsProd {
		return logger.Error
	}
	return logger.Warn
}

// Open connects with the configured pool. Duplicate-key errors are translated
// to gorm.ErrDuplicatedKey so the repository can report conflicts.
func Open(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(DSN(cfg)), &gorm.Config{
		TranslateError: true,                                  // Map driver errors to gorm errors
		Logger:         logger.Default.LogMode(LogLevel(cfg)), // GORM query log level
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := gdb.DB() // Underlying pool
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns) // Pool size
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns) // Idle connections
	sqlDB.SetConnMaxLifetime(time.Hour)       // Recycle connections hourly
	return gdb, nil
}

// Migrate performs automatic migration for the database schema
func Migrate(gdb *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logrus.WithField("tables", len(Models())).Info("Migration completed.") // Log successful migration
	return nil
}
