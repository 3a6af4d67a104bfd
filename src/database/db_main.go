package database

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradeflow/src/model"
)

// MainDB is the primary read/write database connection used by the
// application. It backs both the signal queue and the stop-plan store.
var MainDB *gorm.DB

// InitMainDB initializes the main database connection and runs migrations.
// This should be called once at process startup.
func InitMainDB() error {
	config := GetConfig()

	db, err := gorm.Open(postgres.Open(config.DatabaseURL),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Failed to get DB from GORM")
		return err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := AutoMigrateModels(db); err != nil {
		logrus.WithError(err).Error("Failed to migrate database")
		return err
	}

	MainDB = db
	logrus.Info("[database] MainDB connection established")

	return nil
}

// OpenTestDB opens an isolated in-memory sqlite database with the full
// schema. Used by package tests; each call gets a fresh database.
func OpenTestDB() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"),
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Silent),
		},
	)
	if err != nil {
		return nil, err
	}

	// Every new connection to :memory: is a distinct database, so pin the
	// pool to a single connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrateModels(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrateModels migrates every persisted model this module owns.
func AutoMigrateModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.SignalEntry{},
		&model.StopPlan{},
		&model.PartialExitObservation{},
		&model.Order{},
		&model.OrderLog{},
	)
}
