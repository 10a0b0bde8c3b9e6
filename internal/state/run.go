package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Finished reports whether the run reached a terminal status.
func (s RunStatus) Finished() bool {
	switch s {
	case RunCompleted, RunFailed, RunStopped:
		return true
	}
	return false
}

// RunRecord is a persisted run
type RunRecord struct {
	ID         string         `json:"id"`
	VideoPath  string         `json:"video_path"`
	Mode       string         `json:"mode"`
	Status     RunStatus      `json:"status"`
	Start      float64        `json:"start"`
	End        float64        `json:"end"`
	FrameSkip  int            `json:"frame_skip"`
	Seed       *tracking.Seed `json:"seed,omitempty"`
	TrackID    string         `json:"track_id,omitempty"`
	TrackLost  bool           `json:"track_lost"`
	Frames     int            `json:"frames"`
	Detections int            `json:"detections"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// SaveRun inserts or updates a run. CreatedAt is kept from the first save.
func (m *Manager) SaveRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var seedJSON sql.NullString
	if run.Seed != nil {
		data, err := json.Marshal(run.Seed)
		if err != nil {
			return fmt.Errorf("failed to marshal seed: %w", err)
		}
		seedJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	var finishedAt sql.NullTime
	if run.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO runs (id, video_path, mode, status, start_time, end_time, frame_skip,
			seed, track_id, track_lost, frames, detections, error, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			seed = excluded.seed,
			track_id = excluded.track_id,
			track_lost = excluded.track_lost,
			frames = excluded.frames,
			detections = excluded.detections,
			error = excluded.error,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		run.ID, run.VideoPath, run.Mode, string(run.Status), run.Start, run.End, run.FrameSkip,
		seedJSON, run.TrackID, run.TrackLost, run.Frames, run.Detections, run.Error,
		run.CreatedAt.UTC(), now, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

const runColumns = `id, video_path, mode, status, start_time, end_time, frame_skip,
	seed, track_id, track_lost, frames, detections, error, created_at, updated_at, finished_at`

// GetRun retrieves a run by id
func (m *Manager) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(m.db.GetDB().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns runs newest first. A limit <= 0 returns all of them.
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run and its timeline
func (m *Manager) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var status string
	var seedJSON, trackID, errText sql.NullString
	var finishedAt sql.NullTime

	if err := row.Scan(
		&run.ID, &run.VideoPath, &run.Mode, &status, &run.Start, &run.End, &run.FrameSkip,
		&seedJSON, &trackID, &run.TrackLost, &run.Frames, &run.Detections, &errText,
		&run.CreatedAt, &run.UpdatedAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.TrackID = trackID.String
	run.Error = errText.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if seedJSON.Valid && seedJSON.String != "" {
		var seed tracking.Seed
		if err := json.Unmarshal([]byte(seedJSON.String), &seed); err != nil {
			return nil, fmt.Errorf("failed to parse seed of run %s: %w", run.ID, err)
		}
		run.Seed = &seed
	}

	return &run, nil
}
