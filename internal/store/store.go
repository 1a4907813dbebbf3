// Package store provides the relational storage layer for StackHost using
// GORM. Production deployments run on PostgreSQL; tests open an in-memory
// SQLite database through NewWithDB.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the database handle and provides type-safe operations for
// StackHost entities.
type Store struct {
	db *gorm.DB
}

// New opens a PostgreSQL connection from the application configuration and
// migrates the schema.
func New(cfg *config.Config) (*Store, error) {
	gormLogger := logger.Default.LogMode(logger.Silent)
	if cfg.Server.Debug {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxConnections)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return NewWithDB(db)
}

// NewWithDB wraps an existing GORM handle and migrates the schema. Tests use
// this with a SQLite database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&models.Plan{},
		&models.Subscription{},
		&models.Container{},
		&models.ContainerMetric{},
		&models.CustomImage{},
		&models.ImageBuildLog{},
		&models.DNSZone{},
		&models.DNSRecord{},
		&models.DNSSyncLog{},
		&models.Backup{},
	)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// translate maps GORM errors onto store sentinel errors.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
