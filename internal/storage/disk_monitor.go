package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

// DiskMonitor reports usage of the filesystem holding the data directory
type DiskMonitor struct {
	path            string
	maxUsagePercent float64 // 0 disables the full check
	logger          *logger.Logger
	mu              sync.RWMutex
	lastCheck       time.Time
	cacheDuration   time.Duration
	cachedUsage     *DiskUsage
	statfs          func(path string) (*DiskUsage, error)
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// NewDiskMonitor creates a new disk monitor
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) *DiskMonitor {
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		cacheDuration:   30 * time.Second,
		statfs:          statfs,
	}
}

// Usage returns current disk usage, cached for a short while
func (d *DiskMonitor) Usage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.statfs(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	copied := *usage
	return &copied, nil
}

// Invalidate drops the cached usage so the next call measures again
func (d *DiskMonitor) Invalidate() {
	d.mu.Lock()
	d.cachedUsage = nil
	d.mu.Unlock()
}

// IsFull returns true if disk usage reaches the configured maximum
func (d *DiskMonitor) IsFull(ctx context.Context) (bool, error) {
	if d.maxUsagePercent <= 0 {
		return false, nil
	}
	usage, err := d.Usage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent >= d.maxUsagePercent, nil
}

// Name implements health.Checker
func (d *DiskMonitor) Name() string {
	return "disk"
}

// Check implements health.Checker. A full disk degrades the service: runs
// still work but their results may fail to persist.
func (d *DiskMonitor) Check(ctx context.Context) health.Check {
	check := health.Check{
		Name:      d.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": d.path},
	}

	usage, err := d.Usage(ctx)
	if err != nil {
		check.Status = health.StatusDegraded
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes

	if d.maxUsagePercent > 0 && usage.UsagePercent >= d.maxUsagePercent {
		check.Status = health.StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% exceeds %.1f%%", usage.UsagePercent, d.maxUsagePercent)
		return check
	}

	check.Status = health.StatusHealthy
	check.Message = "Disk usage OK"
	return check
}

func statfs(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	usage := &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
	}
	if totalBytes > 0 {
		usage.UsagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}
	return usage, nil
}
