package integration

import (
	"context"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
)

// fixedModel reports one detection at the frame centre for every frame.
type fixedModel struct{}

func (fixedModel) InputSize() (int, int) { return 32, 32 }

func (fixedModel) Infer(ctx context.Context, input *tensor.Tensor, arena *tensor.Arena) (*tensor.Tensor, *tensor.Tensor, error) {
	boxes := arena.New(1, 1, detect.RowWidth)
	scores := arena.New(1, 1, 1)
	copy(boxes.Data, []float32{0.45, 0.45, 0.55, 0.55, 1, 0.9})
	scores.Data[0] = 0.9
	return boxes, scores, nil
}

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir     string
	Config      *config.Config
	StateMgr    *state.Manager
	Source      *video.MemorySource
	Logger      *logger.Logger
	CleanupFunc func()
}

// SetupTestEnvironment creates a state database under a temp dir and a
// 6 frame, 10 fps in-memory video
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	tmpDir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.DBPath = filepath.Join(tmpDir, "data", "db", "tracker.db")
	cfg.Pipeline.SeekTimeout = time.Second
	cfg.Pipeline.SettleDelay = 0
	cfg.Log.Level = "debug"

	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(cfg.Storage.DBPath, log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}

	frames := make([]image.Image, 6)
	for i := range frames {
		frames[i] = image.NewRGBA(image.Rect(0, 0, 64, 64))
	}

	env := &TestEnvironment{
		TempDir:  tmpDir,
		Config:   cfg,
		StateMgr: stateMgr,
		Source:   video.NewMemorySource(frames, 10),
		Logger:   log,
	}
	env.CleanupFunc = func() {
		env.StateMgr.Close()
	}
	return env
}

// NewRunManager starts a run manager over the environment's store
func (e *TestEnvironment) NewRunManager(t *testing.T) *runs.Manager {
	t.Helper()

	mgr := runs.NewManager(runs.Config{
		Pipeline:  e.Config.PipelineConfig(),
		VideoPath: "memory://integration",
		Labels:    e.Config.Model.Labels,
	}, fixedModel{}, e.Source, e.StateMgr, e.Logger)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start run manager: %v", err)
	}
	return mgr
}

// Reopen closes the state database and opens it again, as a restart would
func (e *TestEnvironment) Reopen(t *testing.T) {
	t.Helper()

	e.StateMgr.Close()
	stateMgr, err := state.NewManager(e.Config.Storage.DBPath, e.Logger)
	if err != nil {
		t.Fatalf("Failed to reopen state manager: %v", err)
	}
	e.StateMgr = stateMgr
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

// CompleteRun starts a batch run over the whole video and waits for it
func CompleteRun(t *testing.T, mgr *runs.Manager) *runs.Status {
	t.Helper()

	st, err := mgr.StartRun(context.Background(), runs.Request{})
	if err != nil {
		t.Fatalf("Failed to start run: %v", err)
	}

	ctx, cancel := ContextWithTimeout(10 * time.Second)
	defer cancel()
	done, err := mgr.Wait(ctx, st.ID)
	if err != nil {
		t.Fatalf("Failed to wait for run: %v", err)
	}
	if done.Status != state.RunCompleted {
		t.Fatalf("Expected completed run, got %s (%s)", done.Status, done.Error)
	}
	return done
}

// StopManager stops a run manager with a bounded wait
func StopManager(t *testing.T, mgr *runs.Manager) {
	t.Helper()

	ctx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop run manager: %v", err)
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return false
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
