package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"txpilot/internal/store"
	"txpilot/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SqliteStore struct {
	db       *gorm.DB
	orders   *orderRepository
	attempts *attemptRepository
	metrics  *metricsRepository
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.OrderModel{},
		&model.AttemptModel{},
		&model.MetricsSnapshotModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
	}
	return &SqliteStore{
		db:       db,
		orders:   &orderRepository{db: db},
		attempts: &attemptRepository{db: db},
		metrics:  &metricsRepository{db: db},
	}, nil
}

func (s *SqliteStore) Orders() store.OrderRepository { return s.orders }

func (s *SqliteStore) Attempts() store.AttemptRepository { return s.attempts }

func (s *SqliteStore) Metrics() store.MetricsRepository { return s.metrics }

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
