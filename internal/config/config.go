package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Model     ModelConfig     `yaml:"model"`
	Video     VideoConfig     `yaml:"video"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Web       WebConfig       `yaml:"web"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ModelConfig describes the exported detector
type ModelConfig struct {
	Path              string   `yaml:"path"`
	SharedLibraryPath string   `yaml:"shared_library_path"` // onnxruntime shared library, optional
	InputName         string   `yaml:"input_name"`
	OutputNames       []string `yaml:"output_names"` // boxes, scores
	InputWidth        int      `yaml:"input_width"`
	InputHeight       int      `yaml:"input_height"`
	OutputRows        int      `yaml:"output_rows"`
	BoxUnits          string   `yaml:"box_units"` // normalized or pixels
	Labels            []string `yaml:"labels"`
}

// VideoConfig contains the video source configuration
type VideoConfig struct {
	Path         string        `yaml:"path"`
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	FFprobePath  string        `yaml:"ffprobe_path"`
	FrameTimeout time.Duration `yaml:"frame_timeout"`
}

// PipelineConfig contains the frame loop and suppression settings
type PipelineConfig struct {
	FrameSkip      int           `yaml:"frame_skip"`
	SeekTimeout    time.Duration `yaml:"seek_timeout"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	MaxOutputSize  int           `yaml:"max_output_size"`
	IoUThreshold   float64       `yaml:"iou_threshold"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	StatsInterval  int           `yaml:"stats_interval"`
}

// TrackerConfig contains the motion model and association settings
type TrackerConfig struct {
	MaxMissedFrames         int     `yaml:"max_missed_frames"`
	GatingDistance          float64 `yaml:"gating_distance"`
	ProcessNoisePos         float64 `yaml:"process_noise_pos"`
	ProcessNoiseVel         float64 `yaml:"process_noise_vel"`
	MeasurementNoise        float64 `yaml:"measurement_noise"`
	InitialPositionVariance float64 `yaml:"initial_position_variance"`
	InitialVelocityVariance float64 `yaml:"initial_velocity_variance"`
}

// StorageConfig contains local persistence configuration
type StorageConfig struct {
	DataDir           string        `yaml:"data_dir"`
	DBPath            string        `yaml:"db_path"`
	RetentionDays     int           `yaml:"retention_days"`      // 0 keeps runs forever
	MaxRuns           int           `yaml:"max_runs"`            // 0 is unlimited
	MaxDiskUsage      float64       `yaml:"max_disk_usage"`      // percent of the data_dir filesystem
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// TelemetryConfig contains metrics collection configuration
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Default returns the stock configuration. Load decodes the file on top of
// it, so keys missing from the file keep these values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Model: ModelConfig{
			InputName:   "images",
			OutputNames: []string{"boxes", "scores"},
			InputWidth:  640,
			InputHeight: 640,
			OutputRows:  8400,
			BoxUnits:    "normalized",
			Labels:      []string{"object"},
		},
		Video: VideoConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			FrameTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			FrameSkip:      1,
			SeekTimeout:    5 * time.Second,
			SettleDelay:    10 * time.Millisecond,
			MaxOutputSize:  100,
			IoUThreshold:   0.5,
			ScoreThreshold: 0.25,
			StatsInterval:  30,
		},
		Tracker: TrackerConfig{
			MaxMissedFrames:         10,
			GatingDistance:          100,
			ProcessNoisePos:         1,
			ProcessNoiseVel:         1,
			MeasurementNoise:        1,
			InitialPositionVariance: 1,
			InitialVelocityVariance: 1000,
		},
		Storage: StorageConfig{
			DataDir:           "./data",
			RetentionDays:     30,
			MaxDiskUsage:      90,
			RetentionInterval: time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
		},
	}
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// Default config path if not provided
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/view-guard-tracker/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults fills values left empty by the file and derived paths
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Model.InputName == "" {
		c.Model.InputName = "images"
	}
	if len(c.Model.OutputNames) == 0 {
		c.Model.OutputNames = []string{"boxes", "scores"}
	}
	if c.Model.BoxUnits == "" {
		c.Model.BoxUnits = "normalized"
	}
	if len(c.Model.Labels) == 0 {
		c.Model.Labels = []string{"object"}
	}

	if c.Video.FFmpegPath == "" {
		c.Video.FFmpegPath = "ffmpeg"
	}
	if c.Video.FFprobePath == "" {
		c.Video.FFprobePath = "ffprobe"
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.DataDir, "db", "tracker.db")
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
}
