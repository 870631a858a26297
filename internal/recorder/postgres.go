package recorder

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mealscan-gateway/internal/apperr"
)

// PostgresStore writes records through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects with dsn and auto-migrates the records table.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect records db: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&analysisRow{}); err != nil {
		return nil, fmt.Errorf("migrate records db: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	row, err := toRow(rec)
	if err != nil {
		return apperr.New(apperr.KindPersistenceFailure, err)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperr.New(apperr.KindPersistenceFailure, fmt.Errorf("insert record %s: %w", row.ID, err))
	}
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
