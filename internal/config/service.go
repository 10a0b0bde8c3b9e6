package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	// Load new configuration
	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(newConfig)

	// Validate new configuration
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	// Update configuration
	s.config = newConfig

	// Notify watchers
	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	// Model settings
	if val := os.Getenv("TRACKER_MODEL_PATH"); val != "" {
		cfg.Model.Path = val
	}
	if val := os.Getenv("TRACKER_ONNXRUNTIME_LIB"); val != "" {
		cfg.Model.SharedLibraryPath = val
	}
	if val := os.Getenv("TRACKER_MODEL_BOX_UNITS"); val != "" {
		cfg.Model.BoxUnits = val
	}
	if val := os.Getenv("TRACKER_MODEL_LABELS"); val != "" {
		// Parse comma-separated class names
		labels := strings.Split(val, ",")
		for i := range labels {
			labels[i] = strings.TrimSpace(labels[i])
		}
		cfg.Model.Labels = labels
	}

	// Video settings
	if val := os.Getenv("TRACKER_VIDEO_PATH"); val != "" {
		cfg.Video.Path = val
	}
	if val := os.Getenv("TRACKER_FFMPEG_PATH"); val != "" {
		cfg.Video.FFmpegPath = val
	}
	if val := os.Getenv("TRACKER_FFPROBE_PATH"); val != "" {
		cfg.Video.FFprobePath = val
	}

	// Pipeline settings
	if val := os.Getenv("TRACKER_FRAME_SKIP"); val != "" {
		if skip, err := parseInt(val); err == nil {
			cfg.Pipeline.FrameSkip = skip
		}
	}
	if val := os.Getenv("TRACKER_SCORE_THRESHOLD"); val != "" {
		if threshold, err := parseFloat64(val); err == nil {
			cfg.Pipeline.ScoreThreshold = threshold
		}
	}
	if val := os.Getenv("TRACKER_IOU_THRESHOLD"); val != "" {
		if threshold, err := parseFloat64(val); err == nil {
			cfg.Pipeline.IoUThreshold = threshold
		}
	}
	cfg.Pipeline.SeekTimeout = GetEnvDuration("TRACKER_SEEK_TIMEOUT", cfg.Pipeline.SeekTimeout)

	// Tracker settings
	cfg.Tracker.MaxMissedFrames = GetEnvInt("TRACKER_MAX_MISSED_FRAMES", cfg.Tracker.MaxMissedFrames)
	cfg.Tracker.GatingDistance = GetEnvFloat64("TRACKER_GATING_DISTANCE", cfg.Tracker.GatingDistance)

	// Storage settings
	if val := os.Getenv("TRACKER_DATA_DIR"); val != "" {
		// Move a derived database path along with its data dir
		if cfg.Storage.DBPath == filepath.Join(cfg.Storage.DataDir, "db", "tracker.db") {
			cfg.Storage.DBPath = filepath.Join(val, "db", "tracker.db")
		}
		cfg.Storage.DataDir = val
	}
	if val := os.Getenv("TRACKER_DB_PATH"); val != "" {
		cfg.Storage.DBPath = val
	}
	cfg.Storage.RetentionDays = GetEnvInt("TRACKER_RETENTION_DAYS", cfg.Storage.RetentionDays)
	cfg.Storage.MaxRuns = GetEnvInt("TRACKER_MAX_RUNS", cfg.Storage.MaxRuns)

	cfg.Telemetry.Enabled = GetEnvBool("TRACKER_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)

	// Web settings
	cfg.Web.Enabled = GetEnvBool("TRACKER_WEB_ENABLED", cfg.Web.Enabled)
	if val := os.Getenv("TRACKER_WEB_PORT"); val != "" {
		if port, err := parseInt(val); err == nil {
			cfg.Web.Port = port
		}
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// Helper functions for parsing environment variables
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

func parseFloat64(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	return result, err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(val, "%f", &result); err != nil {
		return defaultValue
	}
	return result
}

