package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/storage"
)

// Metrics is one snapshot of process and run metrics
type Metrics struct {
	Timestamp   time.Time          `json:"timestamp"`
	System      SystemMetrics      `json:"system"`
	Application ApplicationMetrics `json:"application"`
}

// SystemMetrics describes the process and the data filesystem
type SystemMetrics struct {
	Goroutines       int     `json:"goroutines"`
	HeapAllocBytes   uint64  `json:"heap_alloc_bytes"`
	SysBytes         uint64  `json:"sys_bytes"`
	NumGC            uint32  `json:"num_gc"`
	DiskUsedBytes    int64   `json:"disk_used_bytes"`
	DiskTotalBytes   int64   `json:"disk_total_bytes"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
}

// ApplicationMetrics aggregates over the known runs
type ApplicationMetrics struct {
	Runs             int                     `json:"runs"`
	ActiveRuns       int                     `json:"active_runs"`
	RunsByStatus     map[state.RunStatus]int `json:"runs_by_status"`
	FramesProcessed  int                     `json:"frames_processed"`
	Detections       int                     `json:"detections"`
	ActiveThroughput float64                 `json:"active_throughput"` // frames per second of the active run
	LostTracks       int                     `json:"lost_tracks"`
}

// RunLister is satisfied by *runs.Manager.
type RunLister interface {
	ListRuns(ctx context.Context) ([]runs.Status, error)
}

// Collector collects system and application metrics
type Collector struct {
	*service.ServiceBase
	config      *config.TelemetryConfig
	logger      *logger.Logger
	runs        RunLister
	disk        *storage.DiskMonitor // optional
	mu          sync.RWMutex
	lastMetrics *Metrics
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewCollector creates a new telemetry collector. disk may be nil.
func NewCollector(cfg *config.TelemetryConfig, log *logger.Logger, runLister RunLister, disk *storage.DiskMonitor) *Collector {
	return &Collector{
		ServiceBase: service.NewServiceBase("telemetry-collector", log),
		config:      cfg,
		logger:      log,
		runs:        runLister,
		disk:        disk,
	}
}

// Start starts the telemetry collector service
func (c *Collector) Start(ctx context.Context) error {
	c.GetStatus().SetStatus(service.StatusRunning)

	if !c.config.Enabled {
		c.LogInfo("Telemetry collection is disabled")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.collectLoop(loopCtx, done)

	c.LogInfo("Telemetry collector started", "interval", c.config.Interval.String())
	return nil
}

// Stop stops the telemetry collector service
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.LogInfo("Telemetry collector stopped")
	c.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (c *Collector) collectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := c.Collect(ctx)
			c.logger.Debug("Collected metrics",
				"goroutines", m.System.Goroutines,
				"heap_alloc_bytes", m.System.HeapAllocBytes,
				"runs", m.Application.Runs,
				"active_runs", m.Application.ActiveRuns,
			)
		}
	}
}

// Collect collects all system and application metrics
func (c *Collector) Collect(ctx context.Context) *Metrics {
	data := &Metrics{
		Timestamp:   time.Now(),
		System:      c.collectSystemMetrics(ctx),
		Application: ApplicationMetrics{RunsByStatus: make(map[state.RunStatus]int)},
	}

	appMetrics, err := c.collectApplicationMetrics(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect application metrics", "error", err)
	} else {
		data.Application = appMetrics
	}

	// Store last metrics
	c.mu.Lock()
	c.lastMetrics = data
	c.mu.Unlock()

	return data
}

// GetLastMetrics returns the last collected metrics, nil before the first
// collection
func (c *Collector) GetLastMetrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collectSystemMetrics(ctx context.Context) SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics := SystemMetrics{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: m.HeapAlloc,
		SysBytes:       m.Sys,
		NumGC:          m.NumGC,
	}

	if c.disk != nil {
		usage, err := c.disk.Usage(ctx)
		if err != nil {
			c.logger.Warn("Failed to read disk usage", "error", err)
		} else {
			metrics.DiskUsedBytes = usage.UsedBytes
			metrics.DiskTotalBytes = usage.TotalBytes
			metrics.DiskUsagePercent = usage.UsagePercent
		}
	}
	return metrics
}

func (c *Collector) collectApplicationMetrics(ctx context.Context) (ApplicationMetrics, error) {
	metrics := ApplicationMetrics{RunsByStatus: make(map[state.RunStatus]int)}
	if c.runs == nil {
		return metrics, nil
	}

	list, err := c.runs.ListRuns(ctx)
	if err != nil {
		return metrics, err
	}

	for _, st := range list {
		metrics.Runs++
		metrics.RunsByStatus[st.Status]++
		metrics.FramesProcessed += st.Stats.Frames
		metrics.Detections += st.Stats.Detections
		if st.TrackLost {
			metrics.LostTracks++
		}
		if !st.Status.Finished() {
			metrics.ActiveRuns++
			metrics.ActiveThroughput += st.Stats.Throughput
		}
	}
	return metrics, nil
}
