// Package store keeps the local ledger of completed and failed transfers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

type Transfer struct {
	ID        uint      `gorm:"primaryKey"`
	Direction Direction `gorm:"index;not null"`
	PeerID    string
	PeerName  string
	FileName  string `gorm:"not null"`
	Size      int64
	MimeType  string
	// Bytes is how much actually moved, which differs from Size for
	// failed or abandoned transfers.
	Bytes     int64
	Status    Status `gorm:"index;not null"`
	Location  string
	Error     string
	CreatedAt time.Time `gorm:"index"`
}

// Ledger records transfers.
type Ledger interface {
	RecordTransfer(ctx context.Context, t *Transfer) error
	ListTransfers(ctx context.Context, limit int) ([]Transfer, error)
}

type Store struct {
	db *gorm.DB
}

// Open opens or creates the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordTransfer(ctx context.Context, t *Transfer) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(t).Error
}

// ListTransfers returns the most recent transfers first. A non-positive
// limit returns everything.
func (s *Store) ListTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	var transfers []Transfer
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Ledger = (*Store)(nil)
