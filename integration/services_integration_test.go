package integration

import (
	"context"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/telemetry"
)

// TestRetention_TrimsStoredRuns checks that retention removes stored runs
// beyond the configured count
func TestRetention_TrimsStoredRuns(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	mgr := env.NewRunManager(t)
	defer StopManager(t, mgr)

	var last string
	for i := 0; i < 3; i++ {
		last = CompleteRun(t, mgr).ID
		time.Sleep(5 * time.Millisecond)
	}

	ret := storage.NewRetention(storage.RetentionConfig{MaxRuns: 1}, mgr, nil, env.Logger)
	res, err := ret.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Failed to enforce retention: %v", err)
	}
	if res.Trimmed != 2 {
		t.Errorf("Expected 2 trimmed runs, got %d", res.Trimmed)
	}

	stored, err := env.StateMgr.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("Failed to list stored runs: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != last {
		t.Fatalf("Expected only run %s to remain, got %v", last, stored)
	}
}

// TestServices_StartShutdown runs the background services under the service
// manager the way the binary does
func TestServices_StartShutdown(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	mgr := env.NewRunManager(t)
	disk := storage.NewDiskMonitor(env.Config.Storage.DataDir, env.Config.Storage.MaxDiskUsage, env.Logger)
	ret := storage.NewRetention(storage.RetentionConfig{MaxAge: time.Hour, Interval: time.Hour}, mgr, disk, env.Logger)
	collector := telemetry.NewCollector(&env.Config.Telemetry, env.Logger, mgr, disk)

	svcMgr := service.NewManager(env.Logger)
	svcMgr.Register(mgr)
	svcMgr.Register(ret)
	svcMgr.Register(collector)

	ctx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()
	if err := svcMgr.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	if svcMgr.GetServiceCount() != 3 {
		t.Errorf("Expected 3 services, got %d", svcMgr.GetServiceCount())
	}
	for name, st := range svcMgr.GetAllStatuses() {
		if st.GetStatus() != service.StatusRunning {
			t.Errorf("Expected %s running, got %s", name, st.GetStatus())
		}
	}

	CompleteRun(t, mgr)
	m := collector.Collect(ctx)
	if m.Application.Runs != 1 || m.Application.FramesProcessed != 5 {
		t.Errorf("Expected 1 run with 5 frames, got %d runs with %d frames", m.Application.Runs, m.Application.FramesProcessed)
	}

	if err := svcMgr.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shut down services: %v", err)
	}
	for name, st := range svcMgr.GetAllStatuses() {
		if st.GetStatus() != service.StatusStopped {
			t.Errorf("Expected %s stopped, got %s", name, st.GetStatus())
		}
	}
}
