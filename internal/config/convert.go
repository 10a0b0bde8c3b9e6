package config

import (
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/nms"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
)

// ONNXConfig returns the model adapter settings. Validate guarantees two
// output names.
func (m ModelConfig) ONNXConfig() detect.ONNXConfig {
	cfg := detect.ONNXConfig{
		ModelPath:         m.Path,
		SharedLibraryPath: m.SharedLibraryPath,
		InputName:         m.InputName,
		InputWidth:        m.InputWidth,
		InputHeight:       m.InputHeight,
		OutputRows:        m.OutputRows,
	}
	if len(m.OutputNames) == 2 {
		cfg.BoxesOutput, cfg.ScoresOutput = m.OutputNames[0], m.OutputNames[1]
	}
	return cfg
}

// PipelineConfig returns the frame driver tuning.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		FrameSkip:     c.Pipeline.FrameSkip,
		SeekTimeout:   c.Pipeline.SeekTimeout,
		SettleDelay:   c.Pipeline.SettleDelay,
		StatsInterval: c.Pipeline.StatsInterval,
		BoxUnits:      detect.BoxUnits(c.Model.BoxUnits),
		NMS: nms.Config{
			MaxOutputSize:  c.Pipeline.MaxOutputSize,
			IoUThreshold:   float32(c.Pipeline.IoUThreshold),
			ScoreThreshold: float32(c.Pipeline.ScoreThreshold),
		},
		Tracker: tracking.Config{
			MaxMissedFrames:         c.Tracker.MaxMissedFrames,
			GatingDistance:          c.Tracker.GatingDistance,
			ProcessNoisePos:         c.Tracker.ProcessNoisePos,
			ProcessNoiseVel:         c.Tracker.ProcessNoiseVel,
			MeasurementNoise:        c.Tracker.MeasurementNoise,
			InitialPositionVariance: c.Tracker.InitialPositionVariance,
			InitialVelocityVariance: c.Tracker.InitialVelocityVariance,
		},
	}
}
