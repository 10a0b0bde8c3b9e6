package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.path},
	}

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "Database not configured, runs are not persisted"
		return check
	}

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// VersionProber is satisfied by *video.FFmpegWrapper.
type VersionProber interface {
	GetVersion() (string, error)
}

// FFmpegChecker checks that the frame decoder binary runs
type FFmpegChecker struct {
	ffmpeg VersionProber
}

func NewFFmpegChecker(ffmpeg VersionProber) *FFmpegChecker {
	return &FFmpegChecker{ffmpeg: ffmpeg}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	version, err := c.ffmpeg.GetVersion()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("FFmpeg unavailable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "FFmpeg available"
	check.Details["version"] = version
	return check
}

// FileChecker checks that a required input file is readable
type FileChecker struct {
	name string
	path string
}

// NewFileChecker checks path under the given check name, e.g. "model" or
// "video".
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string {
	return c.name
}

func (c *FileChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.path},
	}

	info, err := os.Stat(c.path)
	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("File not accessible: %v", err)
	case info.IsDir():
		check.Status = StatusUnhealthy
		check.Message = "Path is a directory"
	default:
		check.Status = StatusHealthy
		check.Message = "File accessible"
		check.Details["size_bytes"] = info.Size()
	}
	return check
}

// StorageChecker checks that the data directory is writable
type StorageChecker struct {
	dataDir string
}

func NewStorageChecker(dataDir string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"data_dir": c.dataDir},
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	f, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	name := f.Name()
	f.Close()
	os.Remove(filepath.Clean(name))

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
