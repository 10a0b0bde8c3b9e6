package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
)

// SaveFrames replaces the stored timeline of a run in one transaction
func (m *Manager) SaveFrames(ctx context.Context, runID string, frames []timeline.FrameResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM frame_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear frames: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frame_results (run_id, frame_index, frame_time, data)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, fr := range frames {
		data, err := json.Marshal(fr)
		if err != nil {
			return fmt.Errorf("failed to marshal frame %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, i, fr.Time, string(data)); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit frames: %w", err)
	}

	return nil
}

// LoadFrames returns the stored timeline of a run in frame order
func (m *Manager) LoadFrames(ctx context.Context, runID string) ([]timeline.FrameResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `
		SELECT frame_index, data FROM frame_results
		WHERE run_id = ?
		ORDER BY frame_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	frames := make([]timeline.FrameResult, 0)
	for rows.Next() {
		var idx int
		var data string
		if err := rows.Scan(&idx, &data); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		var fr timeline.FrameResult
		if err := json.Unmarshal([]byte(data), &fr); err != nil {
			return nil, fmt.Errorf("failed to parse frame %d: %w", idx, err)
		}
		frames = append(frames, fr)
	}

	return frames, rows.Err()
}

// LoadTimeline rebuilds a run's cache from storage for replay
func (m *Manager) LoadTimeline(ctx context.Context, runID string) (*timeline.Cache, error) {
	frames, err := m.LoadFrames(ctx, runID)
	if err != nil {
		return nil, err
	}

	cache := timeline.NewCache()
	if err := cache.AppendAll(frames); err != nil {
		return nil, fmt.Errorf("failed to rebuild timeline of run %s: %w", runID, err)
	}

	return cache, nil
}
