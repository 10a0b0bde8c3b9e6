package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
)

// RunStore lists and deletes runs. *runs.Manager implements it.
type RunStore interface {
	ListRuns(ctx context.Context) ([]runs.Status, error)
	DeleteRun(ctx context.Context, id string) error
}

// RetentionConfig bounds how many finished runs are kept
type RetentionConfig struct {
	MaxAge   time.Duration // 0 keeps runs regardless of age
	MaxRuns  int           // 0 is unlimited
	Interval time.Duration
}

// RetentionResult counts the runs removed by one pass
type RetentionResult struct {
	Expired int `json:"expired"`
	Trimmed int `json:"trimmed"`
}

// Retention periodically deletes finished runs that are too old or beyond
// the configured count. Running runs are never touched.
type Retention struct {
	*service.ServiceBase
	cfg   RetentionConfig
	store RunStore
	disk  *DiskMonitor // optional
	now   func() time.Time

	mu        sync.Mutex
	enforcing bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRetention creates the retention service. disk may be nil.
func NewRetention(cfg RetentionConfig, store RunStore, disk *DiskMonitor, log *logger.Logger) *Retention {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Retention{
		ServiceBase: service.NewServiceBase("retention", log),
		cfg:         cfg,
		store:       store,
		disk:        disk,
		now:         time.Now,
	}
}

// Start implements service.Service
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Retention started",
		"max_age", r.cfg.MaxAge.String(),
		"max_runs", r.cfg.MaxRuns,
		"interval", r.cfg.Interval.String(),
	)
	return nil
}

// Stop implements service.Service
func (r *Retention) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		r.GetStatus().SetStatus(service.StatusStopped)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out stopping retention: %w", ctx.Err())
	}
}

func (r *Retention) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Enforce(ctx); err != nil && ctx.Err() == nil {
			r.LogWarn("Retention pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Enforce runs one retention pass
func (r *Retention) Enforce(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult

	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return res, errors.New("retention is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	list, err := r.store.ListRuns(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list runs: %w", err)
	}

	finished := make([]runs.Status, 0, len(list))
	for _, st := range list {
		if st.Status.Finished() {
			finished = append(finished, st)
		}
	}
	// Newest first
	sort.SliceStable(finished, func(i, j int) bool {
		return finished[i].CreatedAt.After(finished[j].CreatedAt)
	})

	var cutoff time.Time
	if r.cfg.MaxAge > 0 {
		cutoff = r.now().Add(-r.cfg.MaxAge)
	}

	kept := 0
	for _, st := range finished {
		switch {
		case !cutoff.IsZero() && st.CreatedAt.Before(cutoff):
			if r.delete(ctx, st.ID) {
				res.Expired++
			}
		case r.cfg.MaxRuns > 0 && kept >= r.cfg.MaxRuns:
			if r.delete(ctx, st.ID) {
				res.Trimmed++
			}
		default:
			kept++
		}
	}

	if res.Expired > 0 || res.Trimmed > 0 {
		r.LogInfo("Deleted runs past retention", "expired", res.Expired, "trimmed", res.Trimmed)
	}

	if r.disk != nil {
		r.disk.Invalidate()
		full, err := r.disk.IsFull(ctx)
		if err != nil {
			r.LogWarn("Failed to check disk usage", "error", err)
		} else if full {
			r.LogWarn("Disk usage above limit, lower storage.retention_days or storage.max_runs")
		}
	}
	return res, nil
}

func (r *Retention) delete(ctx context.Context, id string) bool {
	err := r.store.DeleteRun(ctx, id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, runs.ErrRunNotFound), errors.Is(err, runs.ErrRunActive):
		return false
	default:
		r.LogWarn("Failed to delete run", logger.FieldRunID, id, "error", err)
		return false
	}
}
