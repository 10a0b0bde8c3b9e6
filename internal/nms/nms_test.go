package nms

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
)

func TestIoU(t *testing.T) {
	a := detect.Box{0, 0, 1, 1}
	assert.InDelta(t, 1.0, IoU(a, a), 1e-6)
	assert.InDelta(t, 0.0, IoU(a, detect.Box{2, 2, 3, 3}), 1e-6)

	// Half overlap along x: inter 0.5, union 1.5.
	assert.InDelta(t, 1.0/3.0, IoU(a, detect.Box{0, 0.5, 1, 1.5}), 1e-6)

	// Flipped corners describe the same box.
	assert.InDelta(t, 1.0, IoU(a, detect.Box{1, 1, 0, 0}), 1e-6)

	// Degenerate boxes never overlap.
	assert.Equal(t, float32(0), IoU(detect.Box{0, 0, 0, 1}, a))
}

func TestSuppress_KeepsHighestOfOverlappingPair(t *testing.T) {
	boxes := []detect.Box{
		{0, 0, 1, 1},
		{0, 0.05, 1, 1.05}, // overlaps box 0 heavily
		{2, 2, 3, 3},
	}
	scores := []float32{0.6, 0.9, 0.5}

	kept := Suppress(boxes, scores, Config{MaxOutputSize: 10, IoUThreshold: 0.5, ScoreThreshold: 0.1})
	assert.Equal(t, []int{1, 2}, kept)
}

func TestSuppress_ScoreThreshold(t *testing.T) {
	boxes := []detect.Box{{0, 0, 1, 1}, {2, 2, 3, 3}}
	kept := Suppress(boxes, []float32{0.2, 0.25}, Config{MaxOutputSize: 10, IoUThreshold: 0.5, ScoreThreshold: 0.25})
	assert.Equal(t, []int{1}, kept)
}

func TestSuppress_MaxOutputSize(t *testing.T) {
	var boxes []detect.Box
	var scores []float32
	for i := 0; i < 10; i++ {
		f := float32(i) * 2
		boxes = append(boxes, detect.Box{f, f, f + 1, f + 1})
		scores = append(scores, 0.5+float32(i)/100)
	}
	kept := Suppress(boxes, scores, Config{MaxOutputSize: 3, IoUThreshold: 0.5, ScoreThreshold: 0})
	assert.Equal(t, []int{9, 8, 7}, kept)

	assert.Empty(t, Suppress(boxes, scores, Config{MaxOutputSize: 0}))
}

func TestSuppress_TiesKeepOriginalOrder(t *testing.T) {
	boxes := []detect.Box{{0, 0, 1, 1}, {5, 5, 6, 6}, {0, 0, 1, 1}}
	scores := []float32{0.7, 0.7, 0.7}

	kept := Suppress(boxes, scores, Config{MaxOutputSize: 10, IoUThreshold: 0.5, ScoreThreshold: 0})
	assert.Equal(t, []int{0, 1}, kept, "identical box 2 loses the tie to box 0")
}

func TestSuppress_ThresholdEqualityIsSuppressed(t *testing.T) {
	// IoU is exactly 1/3.
	boxes := []detect.Box{{0, 0, 1, 1}, {0, 0.5, 1, 1.5}}
	scores := []float32{0.9, 0.8}
	kept := Suppress(boxes, scores, Config{MaxOutputSize: 10, IoUThreshold: IoU(boxes[0], boxes[1]), ScoreThreshold: 0})
	assert.Equal(t, []int{0}, kept)
}

func TestSuppress_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cfg := Config{MaxOutputSize: 15, IoUThreshold: 0.45, ScoreThreshold: 0.2}

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(60)
		boxes := make([]detect.Box, n)
		scores := make([]float32, n)
		for i := range boxes {
			y, x := rng.Float32()*0.8, rng.Float32()*0.8
			h, w := rng.Float32()*0.3+0.01, rng.Float32()*0.3+0.01
			boxes[i] = detect.Box{y, x, y + h, x + w}
			scores[i] = rng.Float32()
		}

		kept := Suppress(boxes, scores, cfg)
		require.LessOrEqual(t, len(kept), cfg.MaxOutputSize)

		for i, a := range kept {
			assert.GreaterOrEqual(t, scores[a], cfg.ScoreThreshold)
			for _, b := range kept[i+1:] {
				assert.Less(t, IoU(boxes[a], boxes[b]), cfg.IoUThreshold)
			}
		}

		// Deterministic.
		assert.Equal(t, kept, Suppress(boxes, scores, cfg))
	}
}

func TestSuppressCandidates_IgnoresClass(t *testing.T) {
	c := detect.Candidates{
		Boxes:   []detect.Box{{0, 0, 1, 1}, {0, 0, 1, 1}},
		Scores:  []float32{0.9, 0.8},
		Classes: []int{0, 1},
	}
	assert.Equal(t, []int{0}, SuppressCandidates(c, DefaultConfig()))
}

func TestSuppressByClass(t *testing.T) {
	c := detect.Candidates{
		Boxes:   []detect.Box{{0, 0, 1, 1}, {0, 0, 1, 1}, {0, 0, 1, 1}},
		Scores:  []float32{0.9, 0.8, 0.7},
		Classes: []int{0, 1, 0},
	}
	assert.Equal(t, []int{0, 1}, SuppressByClass(c, DefaultConfig()))

	cfg := DefaultConfig()
	cfg.MaxOutputSize = 1
	assert.Equal(t, []int{0}, SuppressByClass(c, cfg))

	assert.Equal(t, []int{}, SuppressByClass(detect.Candidates{}, DefaultConfig()))
}
