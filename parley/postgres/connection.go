// File: connection.go
package postgres

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ParleyChat/go-api/parley/postgres/models"
)

// defaultDSN matches the docker-compose development environment.
const defaultDSN = "host=parley-postgres user=postgres password=password dbname=parley port=5432 sslmode=disable"

// Config holds database connection settings.
type Config struct {
	DSN string
}

// LoadConfigFromEnv reads connection settings from the environment.
// PARLEY_DATABASE_DSN overrides the development default.
func LoadConfigFromEnv() Config {
	cfg := Config{DSN: defaultDSN}
	if dsn := os.Getenv("PARLEY_DATABASE_DSN"); dsn != "" {
		cfg.DSN = dsn
	}
	return cfg
}

var (
	db     *gorm.DB
	dbOnce sync.Once
	dbErr  error
)

// Connect opens the shared database handle and migrates the schema. It is
// safe to call from multiple packages; only the first call dials.
func Connect(cfg Config) (*gorm.DB, error) {
	dbOnce.Do(func() {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			dbErr = fmt.Errorf("connect to postgres: %w", err)
			return
		}
		if err := Migrate(db); err != nil {
			dbErr = err
			return
		}
		slog.Debug("Database connection established")
	})
	return db, dbErr
}

// ConnectFromEnv is Connect with configuration read from the environment.
func ConnectFromEnv() (*gorm.DB, error) {
	return Connect(LoadConfigFromEnv())
}

// Migrate applies the schema for all persisted models. Exposed so tests can
// run the same migrations against their own database handle.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.BlockedUser{},
		&models.ScanCache{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// GetDB returns the shared database handle, or nil if Connect has not
// succeeded yet.
func GetDB() *gorm.DB {
	return db
}
