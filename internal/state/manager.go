package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

// ErrNotFound is returned when a run is not stored.
var ErrNotFound = errors.New("run not found")

// Manager persists runs and their timelines
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the database at dbPath and creates the schema
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// RecoverState marks runs left active by a previous process as failed and
// returns how many were affected.
func (m *Manager) RecoverState(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Recovering run state")

	query := `
		UPDATE runs
		SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP, finished_at = CURRENT_TIMESTAMP
		WHERE status IN (?, ?)
	`
	res, err := m.db.GetDB().ExecContext(ctx, query,
		string(RunFailed), "interrupted by restart",
		string(RunPending), string(RunRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover runs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered runs: %w", err)
	}

	m.logger.Info("State recovery complete", "interrupted_runs", n)
	return int(n), nil
}
