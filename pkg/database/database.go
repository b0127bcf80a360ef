package database

import (
	"fmt"

	"hub-service/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// ConnectorFunc is used to inject a database connection method into Connect.
// Keeps handlers and services testable against an in-memory sqlite database.
type ConnectorFunc func() (*gorm.DB, error)

// NewPostgresConnector opens a connection to a PostgreSQL database
func NewPostgresConnector(cfg *config.DatabaseConfig) ConnectorFunc {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	return func() (*gorm.DB, error) {
		pgConfig := postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true, // Disables implicit prepared statement usage
		}

		db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
			Logger: logger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
			// Map driver duplicate-key errors onto gorm.ErrDuplicatedKey so
			// the create-race retry path works on both drivers
			TranslateError: true,
		})
		if err != nil {
			return nil, err
		}

		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

		return db, nil
	}
}

// NewSQLiteConnector opens a connection to a local sqlite database
func NewSQLiteConnector(path string) ConnectorFunc {
	return func() (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})

		if err == nil {
			db.Exec("PRAGMA foreign_keys = ON")
		}

		return db, err
	}
}

// InitDB initializes the global database connection from configuration
func InitDB(cfg *config.Config) error {
	var connect ConnectorFunc
	switch cfg.Database.Driver {
	case "sqlite":
		connect = NewSQLiteConnector(cfg.Database.SQLitePath)
	default:
		connect = NewPostgresConnector(&cfg.Database)
	}

	db, err := Connect(connect)
	if err != nil {
		return err
	}

	DB = db
	return nil
}

// Connect opens a connection using the provided connector
func Connect(connect ConnectorFunc) (*gorm.DB, error) {
	return connect()
}

// MigrateModels runs migrations for the provided models
func MigrateModels(models ...interface{}) error {
	if DB == nil {
		return fmt.Errorf("database is not initialized")
	}

	if err := DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
