package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/pipeline"
)

func TestPipelineConfig_DefaultsMatchDriver(t *testing.T) {
	got := Default().PipelineConfig()
	if diff := cmp.Diff(pipeline.DefaultConfig(), got); diff != "" {
		t.Errorf("PipelineConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineConfig_Overrides(t *testing.T) {
	cfg := Default()
	cfg.Model.BoxUnits = "pixels"
	cfg.Pipeline.FrameSkip = 4
	cfg.Pipeline.IoUThreshold = 0.7
	cfg.Tracker.MaxMissedFrames = 0

	got := cfg.PipelineConfig()
	assert.Equal(t, detect.UnitsPixels, got.BoxUnits)
	assert.Equal(t, 4, got.FrameSkip)
	assert.InDelta(t, 0.7, got.NMS.IoUThreshold, 1e-6)
	assert.Equal(t, 0, got.Tracker.MaxMissedFrames)
}

func TestModelConfig_ONNXConfig(t *testing.T) {
	m := Default().Model
	m.Path = "/models/detector.onnx"

	got := m.ONNXConfig()
	assert.Equal(t, "/models/detector.onnx", got.ModelPath)
	assert.Equal(t, "images", got.InputName)
	assert.Equal(t, "boxes", got.BoxesOutput)
	assert.Equal(t, "scores", got.ScoresOutput)
	assert.Equal(t, 640, got.InputWidth)
	assert.Equal(t, 8400, got.OutputRows)
}
