package state

import (
	"path/filepath"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	tmpDir := t.TempDir()

	mgr, err := NewManager(filepath.Join(tmpDir, "db", "tracker.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
