// Package runs owns processing runs over the configured video: it starts the
// frame-advance driver, turns operator selections into track seeds, keeps
// each run's timeline for scrubbing and hands finished runs to storage.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
)

var (
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive is returned when a run is started while another one
	// holds the video source.
	ErrRunActive = errors.New("another run is active")
	// ErrDetectionNotFound is returned when a selection names a detection
	// that the chosen frame does not have.
	ErrDetectionNotFound = errors.New("detection not found")
	// ErrNotStarted is returned when a run is requested before Start or
	// after Stop.
	ErrNotStarted = errors.New("run manager is not started")
)

// Store persists runs. *state.Manager implements it.
type Store interface {
	SaveRun(ctx context.Context, run state.RunRecord) error
	SaveFrames(ctx context.Context, runID string, frames []timeline.FrameResult) error
	GetRun(ctx context.Context, id string) (*state.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]state.RunRecord, error)
	LoadTimeline(ctx context.Context, runID string) (*timeline.Cache, error)
	DeleteRun(ctx context.Context, id string) error
	RecoverState(ctx context.Context) (int, error)
}

// Config is the run manager setup.
type Config struct {
	Pipeline  pipeline.Config
	VideoPath string
	Labels    []string
}

// Manager runs one driver at a time over a shared video source and model.
type Manager struct {
	*service.ServiceBase

	cfg    Config
	model  detect.Model
	source video.Source
	store  Store // nil disables persistence

	mu      sync.RWMutex
	runs    map[string]*run
	active  *run
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager creates a run manager. store may be nil.
func NewManager(cfg Config, model detect.Model, source video.Source, store Store, log *logger.Logger) *Manager {
	if len(cfg.Labels) == 0 {
		cfg.Labels = timeline.DefaultLabels
	}
	return &Manager{
		ServiceBase: service.NewServiceBase("runs", log),
		cfg:         cfg,
		model:       model,
		source:      source,
		store:       store,
		runs:        make(map[string]*run),
	}
}

// Labels returns the class label table.
func (m *Manager) Labels() []string {
	return m.cfg.Labels
}

// VideoInfo returns the metadata of the video source.
func (m *Manager) VideoInfo() video.Info {
	return m.source.Info()
}

// Start implements service.Service.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	if m.store != nil {
		n, err := m.store.RecoverState(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover runs: %w", err)
		}
		if n > 0 {
			m.LogWarn("Marked interrupted runs as failed", "count", n)
		}
	}

	// Runs outlive the start context; Stop cancels them.
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.started = true
	m.GetStatus().SetStatus(service.StatusRunning)

	info := m.source.Info()
	m.LogInfo("Run manager started",
		"video", m.cfg.VideoPath,
		"duration", info.Duration,
		"fps", info.FPS,
		"frames", info.FrameCount,
	)
	return nil
}

// Stop implements service.Service. Active runs are stopped and waited for
// until ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	if m.active != nil {
		m.active.driver.Stop()
	}
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.GetStatus().SetStatus(service.StatusStopped)
		m.LogInfo("Run manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for active run: %w", ctx.Err())
	}
}

// StartRun validates req and starts a run in the background.
func (m *Manager) StartRun(ctx context.Context, req Request) (*Status, error) {
	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if req.FrameSkip < 0 {
		return nil, fmt.Errorf("frame_skip must be >= 0, got %d", req.FrameSkip)
	}

	opts := pipeline.Options{
		Start:     req.Start,
		End:       req.End,
		FrameSkip: req.FrameSkip,
		Mode:      mode,
	}
	if opts.FrameSkip == 0 {
		opts.FrameSkip = m.cfg.Pipeline.FrameSkip
	}
	if req.Track != nil {
		seed, err := m.SeedFromSelection(ctx, *req.Track)
		if err != nil {
			return nil, err
		}
		opts.Tracking = true
		opts.Seed = &seed
		// The filter starts at the seed, so a run never covers earlier frames.
		if opts.Start < seed.Time {
			opts.Start = seed.Time
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil, ErrNotStarted
	}
	if m.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunActive, m.active.id)
	}

	id := uuid.NewString()
	r := &run{
		id:      id,
		opts:    opts,
		cache:   timeline.NewCache(),
		driver:  pipeline.NewDriver(m.model, m.source, m.cfg.Pipeline, m.Logger().WithRun(id)),
		created: time.Now().UTC(),
		done:    make(chan struct{}),
		status:  state.RunRunning,
		start:   opts.Start,
		end:     req.End,
	}
	m.runs[id] = r
	m.active = r

	m.persist(ctx, r, nil)
	m.PublishEvent(service.EventTypeRunStarted, map[string]interface{}{
		"run_id":   id,
		"mode":     string(mode),
		"start":    opts.Start,
		"end":      req.End,
		"tracking": opts.Tracking,
	})
	m.LogInfo("Run started", logger.FieldRunID, id, "mode", string(mode), "tracking", opts.Tracking)

	m.wg.Add(1)
	go m.execute(r)

	st := r.snapshot()
	return &st, nil
}

// execute drives r to completion and records the outcome.
func (m *Manager) execute(r *run) {
	defer m.wg.Done()
	defer close(r.done)

	obs := pipeline.ObserverFunc(func(fr timeline.FrameResult, stats pipeline.Stats) {
		r.setStats(stats)
		if r.opts.Mode != pipeline.ModeRealtime {
			return
		}
		m.PublishEvent(service.EventTypeFrameProcessed, map[string]interface{}{
			"run_id":      r.id,
			"index":       fr.Index,
			"time":        fr.Time,
			"detections":  len(fr.Detections),
			"track_state": fr.TrackState,
			"progress":    stats.Progress,
		})
	})

	res, err := r.driver.Run(m.ctx, r.opts, r.cache, obs)

	// A stopped batch run keeps what it processed.
	if errors.Is(err, pipeline.ErrStopped) && res != nil && r.opts.Mode == pipeline.ModeBatch && r.cache.Len() == 0 {
		if appendErr := r.cache.AppendAll(res.Frames); appendErr != nil {
			m.LogError("Failed to keep stopped run frames", appendErr, logger.FieldRunID, r.id)
		}
	}

	finished := time.Now().UTC()
	r.mu.Lock()
	r.finished = &finished
	if res != nil {
		r.stats = res.Stats
		r.start, r.end = res.Start, res.End
		r.trackID = res.TrackID
		r.lost = res.TrackLost
	}
	switch {
	case err == nil:
		r.status = state.RunCompleted
		r.stats.Progress = 1
	case errors.Is(err, pipeline.ErrStopped):
		r.status = state.RunStopped
	default:
		r.status = state.RunFailed
		r.err = err
	}
	status := r.status
	r.mu.Unlock()

	m.mu.Lock()
	if m.active == r {
		m.active = nil
	}
	m.mu.Unlock()

	// Persistence outlives a cancelled manager context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.persist(ctx, r, r.cache.Snapshot())

	st := r.snapshot()
	data := map[string]interface{}{
		"run_id":     r.id,
		"frames":     st.Stats.Frames,
		"detections": st.Stats.Detections,
		"track_lost": st.TrackLost,
	}
	if st.TrackLost {
		m.PublishEvent(service.EventTypeTrackLost, map[string]interface{}{
			"run_id":   r.id,
			"track_id": st.TrackID,
			"time":     st.Stats.Position,
		})
	}

	switch status {
	case state.RunCompleted:
		m.PublishEvent(service.EventTypeRunCompleted, data)
		m.LogInfo("Run completed", logger.FieldRunID, r.id, "frames", st.Stats.Frames, "track_lost", st.TrackLost)
	case state.RunStopped:
		m.PublishEvent(service.EventTypeRunStopped, data)
		m.LogInfo("Run stopped", logger.FieldRunID, r.id, "frames", st.Stats.Frames)
	default:
		data["error"] = st.Error
		m.PublishEvent(service.EventTypeRunFailed, data)
		m.LogError("Run failed", err, logger.FieldRunID, r.id)
	}
}

// persist saves the run record and, when frames is non-nil, its timeline.
func (m *Manager) persist(ctx context.Context, r *run, frames []timeline.FrameResult) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRun(ctx, r.record(m.cfg.VideoPath)); err != nil {
		m.LogError("Failed to save run", err, logger.FieldRunID, r.id)
		return
	}
	if frames == nil {
		return
	}
	if err := m.store.SaveFrames(ctx, r.id, frames); err != nil {
		m.LogError("Failed to save run timeline", err, logger.FieldRunID, r.id)
	}
}

// StopRun asks an active run to stop. Stopping a finished run is a no-op.
func (m *Manager) StopRun(ctx context.Context, id string) (*Status, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return m.GetRun(ctx, id)
	}

	if r.driver != nil && !r.finishedRunning() {
		r.driver.Stop()
		m.LogInfo("Run stop requested", logger.FieldRunID, id)
	}

	st := r.snapshot()
	return &st, nil
}

// Wait blocks until the run finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*Status, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return m.GetRun(ctx, id)
	}

	select {
	case <-r.done:
		st := r.snapshot()
		return &st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRun returns the status of a run, live or stored.
func (m *Manager) GetRun(ctx context.Context, id string) (*Status, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if ok {
		st := r.snapshot()
		return &st, nil
	}

	rec, err := m.storedRun(ctx, id)
	if err != nil {
		return nil, err
	}
	st := statusFromRecord(*rec)
	return &st, nil
}

// ListRuns returns every known run, newest first.
func (m *Manager) ListRuns(ctx context.Context) ([]Status, error) {
	m.mu.RLock()
	out := make([]Status, 0, len(m.runs))
	seen := make(map[string]bool, len(m.runs))
	for id, r := range m.runs {
		out = append(out, r.snapshot())
		seen[id] = true
	}
	m.mu.RUnlock()

	if m.store != nil {
		recs, err := m.store.ListRuns(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored runs: %w", err)
		}
		for _, rec := range recs {
			if !seen[rec.ID] {
				out = append(out, statusFromRecord(rec))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Timeline returns the cache of a run. Stored runs are loaded once and kept
// for replay; they are never recomputed.
func (m *Manager) Timeline(ctx context.Context, id string) (*timeline.Cache, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if ok {
		return r.cache, nil
	}

	rec, err := m.storedRun(ctx, id)
	if err != nil {
		return nil, err
	}
	cache, err := m.store.LoadTimeline(ctx, id)
	if err != nil {
		return nil, err
	}

	loaded := &run{
		id:    rec.ID,
		cache: cache,
		opts: pipeline.Options{
			Start:     rec.Start,
			End:       rec.End,
			FrameSkip: rec.FrameSkip,
			Mode:      pipeline.Mode(rec.Mode),
			Tracking:  rec.Seed != nil,
			Seed:      rec.Seed,
		},
		created:  rec.CreatedAt,
		done:     make(chan struct{}),
		status:   rec.Status,
		start:    rec.Start,
		end:      rec.End,
		trackID:  rec.TrackID,
		lost:     rec.TrackLost,
		finished: rec.FinishedAt,
		stats:    statusFromRecord(*rec).Stats,
	}
	if rec.Error != "" {
		loaded.err = errors.New(rec.Error)
	}
	close(loaded.done)

	m.mu.Lock()
	if existing, ok := m.runs[id]; ok {
		loaded = existing
	} else {
		m.runs[id] = loaded
	}
	m.mu.Unlock()

	m.LogDebug("Loaded stored timeline", logger.FieldRunID, id, "frames", cache.Len())
	return loaded.cache, nil
}

// DeleteRun forgets a finished run and removes it from storage.
func (m *Manager) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	r, inMemory := m.runs[id]
	if inMemory && !r.finishedRunning() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunActive, id)
	}
	delete(m.runs, id)
	m.mu.Unlock()

	if m.store == nil {
		if !inMemory {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	}
	err := m.store.DeleteRun(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		if inMemory {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	m.LogInfo("Run deleted", logger.FieldRunID, id)
	return nil
}

// SeedFromSelection resolves an operator selection to a track seed. The
// frame is the last one at or before sel.Time, or the nearest one when
// sel.Time precedes the run.
func (m *Manager) SeedFromSelection(ctx context.Context, sel Selection) (tracking.Seed, error) {
	cache, err := m.Timeline(ctx, sel.RunID)
	if err != nil {
		return tracking.Seed{}, err
	}

	fr, ok := cache.AtOrBefore(sel.Time)
	if !ok {
		fr, ok = cache.Nearest(sel.Time)
	}
	if !ok {
		return tracking.Seed{}, fmt.Errorf("%w: run %s has no frames", ErrDetectionNotFound, sel.RunID)
	}

	det, ok := detect.FindByID(fr.Detections, sel.DetectionID)
	if !ok {
		return tracking.Seed{}, fmt.Errorf("%w: id %d at t=%.3f", ErrDetectionNotFound, sel.DetectionID, fr.Time)
	}

	return tracking.SeedFromDetection(det, fr.Time), nil
}

func (m *Manager) storedRun(ctx context.Context, id string) (*state.RunRecord, error) {
	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	rec, err := m.store.GetRun(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
