// Package history records the outcome of past runs in a local sqlite
// database, as a diagnostic audit of what was captured and uploaded when.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Run statuses.
const (
	StatusVerified = "verified"
	StatusFailed   = "failed"
)

// Run is one recorded invocation of the update flow.
type Run struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	Repo       string
	OutputPath string
	ByteSize   int64
	Quality    int
	Format     string
	Oversized  bool

	Signal    string
	ImageID   string
	IDChanged bool

	Status string
	Error  string
}

// Store persists runs.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends a run.
func (s *Store) Record(run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest n runs, newest first.
func (s *Store) Recent(n int) ([]Run, error) {
	var runs []Run
	err := s.db.Order("created_at DESC").Limit(n).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return runs, nil
}
