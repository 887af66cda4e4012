// Package gormdb implements store.Store on gorm, backed by SQLite for a
// single process or PostgreSQL for a shared ledger.
package gormdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"roboai/internal/config"
	"roboai/internal/store"
	"roboai/internal/store/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db     *gorm.DB
	driver string
}

// Open connects with the configured driver and migrates the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", config.DriverSQLite:
		return OpenSQLite(cfg.Path)
	case config.DriverPostgres:
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func OpenSQLite(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	s, err := newStore(db, config.DriverSQLite)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return s, nil
}

func OpenPostgres(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	return newStore(db, config.DriverPostgres)
}

// FromDB wraps an existing connection, mainly for tests.
func FromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newStore(db, db.Dialector.Name())
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

func newStore(db *gorm.DB, driver string) (*Store, error) {
	if err := db.AutoMigrate(&model.OrderModel{}, &model.TradeModel{}, &model.PositionModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil && driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &unitOfWork{tx: tx}, nil
}

// Orders, Trades and Positions read outside a transaction.
func (s *Store) Orders() store.OrderRepository       { return &orderRepo{db: s.db} }
func (s *Store) Trades() store.TradeRepository       { return &tradeRepo{db: s.db} }
func (s *Store) Positions() store.PositionRepository { return &positionRepo{db: s.db} }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type unitOfWork struct {
	tx *gorm.DB
}

func (u *unitOfWork) Orders() store.OrderRepository       { return &orderRepo{db: u.tx} }
func (u *unitOfWork) Trades() store.TradeRepository       { return &tradeRepo{db: u.tx} }
func (u *unitOfWork) Positions() store.PositionRepository { return &positionRepo{db: u.tx} }

func (u *unitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *unitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}
