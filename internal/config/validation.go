package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	// Validate log settings
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Validate model settings
	if c.Model.InputName == "" {
		errors = append(errors, "model.input_name is required")
	}
	if len(c.Model.OutputNames) != 2 {
		errors = append(errors, fmt.Sprintf("model.output_names must name the boxes and scores outputs, got: %v", c.Model.OutputNames))
	}
	if c.Model.InputWidth <= 0 || c.Model.InputHeight <= 0 {
		errors = append(errors, fmt.Sprintf("model input size must be > 0, got: %dx%d", c.Model.InputWidth, c.Model.InputHeight))
	}
	if c.Model.OutputRows <= 0 {
		errors = append(errors, fmt.Sprintf("model.output_rows must be > 0, got: %d", c.Model.OutputRows))
	}
	if c.Model.BoxUnits != "normalized" && c.Model.BoxUnits != "pixels" {
		errors = append(errors, fmt.Sprintf("invalid model.box_units: %s (must be: normalized or pixels)", c.Model.BoxUnits))
	}

	// Validate video settings
	if c.Video.FrameTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("video.frame_timeout must be > 0, got: %v", c.Video.FrameTimeout))
	}

	// Validate pipeline settings
	if c.Pipeline.FrameSkip < 1 {
		errors = append(errors, fmt.Sprintf("pipeline.frame_skip must be >= 1, got: %d", c.Pipeline.FrameSkip))
	}
	if c.Pipeline.SeekTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.seek_timeout must be > 0, got: %v", c.Pipeline.SeekTimeout))
	}
	if c.Pipeline.SettleDelay < 0 {
		errors = append(errors, fmt.Sprintf("pipeline.settle_delay must be >= 0, got: %v", c.Pipeline.SettleDelay))
	}
	if c.Pipeline.MaxOutputSize <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.max_output_size must be > 0, got: %d", c.Pipeline.MaxOutputSize))
	}
	if c.Pipeline.IoUThreshold < 0 || c.Pipeline.IoUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("pipeline.iou_threshold must be between 0 and 1, got: %.2f", c.Pipeline.IoUThreshold))
	}
	if c.Pipeline.ScoreThreshold < 0 || c.Pipeline.ScoreThreshold > 1 {
		errors = append(errors, fmt.Sprintf("pipeline.score_threshold must be between 0 and 1, got: %.2f", c.Pipeline.ScoreThreshold))
	}
	if c.Pipeline.StatsInterval <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.stats_interval must be > 0, got: %d", c.Pipeline.StatsInterval))
	}

	// Validate tracker settings
	if c.Tracker.MaxMissedFrames < 0 {
		errors = append(errors, fmt.Sprintf("tracker.max_missed_frames must be >= 0, got: %d", c.Tracker.MaxMissedFrames))
	}
	if c.Tracker.GatingDistance <= 0 {
		errors = append(errors, fmt.Sprintf("tracker.gating_distance must be > 0, got: %.2f", c.Tracker.GatingDistance))
	}
	variances := []struct {
		name  string
		value float64
	}{
		{"tracker.process_noise_pos", c.Tracker.ProcessNoisePos},
		{"tracker.process_noise_vel", c.Tracker.ProcessNoiseVel},
		{"tracker.measurement_noise", c.Tracker.MeasurementNoise},
		{"tracker.initial_position_variance", c.Tracker.InitialPositionVariance},
		{"tracker.initial_velocity_variance", c.Tracker.InitialVelocityVariance},
	}
	for _, v := range variances {
		if v.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be > 0, got: %.2f", v.name, v.value))
		}
	}

	// Validate storage settings
	if c.Storage.DataDir == "" {
		errors = append(errors, "storage.data_dir is required")
	}
	if c.Storage.DBPath != "" {
		if !filepath.IsAbs(c.Storage.DBPath) && !strings.HasPrefix(c.Storage.DBPath, "./") &&
			!strings.HasPrefix(c.Storage.DBPath, filepath.Clean(c.Storage.DataDir)+string(filepath.Separator)) {
			// Relative path - make it relative to data_dir
			c.Storage.DBPath = filepath.Join(c.Storage.DataDir, c.Storage.DBPath)
		}
	}

	if c.Storage.RetentionDays < 0 {
		errors = append(errors, fmt.Sprintf("storage.retention_days must be >= 0, got: %d", c.Storage.RetentionDays))
	}
	if c.Storage.MaxRuns < 0 {
		errors = append(errors, fmt.Sprintf("storage.max_runs must be >= 0, got: %d", c.Storage.MaxRuns))
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 100 {
		errors = append(errors, fmt.Sprintf("storage.max_disk_usage must be between 0 and 100, got: %.1f", c.Storage.MaxDiskUsage))
	}
	if c.Storage.RetentionInterval <= 0 {
		errors = append(errors, fmt.Sprintf("storage.retention_interval must be > 0, got: %s", c.Storage.RetentionInterval))
	}

	// Telemetry validation
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("telemetry.interval must be > 0, got: %s", c.Telemetry.Interval))
	}

	// Validate web settings
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
