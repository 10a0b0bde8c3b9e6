package timeline

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
)

func cacheWithTimes(t *testing.T, times ...float64) *Cache {
	t.Helper()
	c := NewCache()
	for _, ts := range times {
		_, err := c.Append(FrameResult{Time: ts})
		require.NoError(t, err)
	}
	return c
}

func TestCache_AtOrBefore(t *testing.T) {
	c := cacheWithTimes(t, 0.0, 0.5, 1.0)

	fr, ok := c.AtOrBefore(0.7)
	require.True(t, ok)
	assert.Equal(t, 0.5, fr.Time)
	assert.Equal(t, 1, fr.Index)

	fr, ok = c.AtOrBefore(1.0)
	require.True(t, ok)
	assert.Equal(t, 1.0, fr.Time)

	fr, ok = c.AtOrBefore(0.5 - Epsilon/2)
	require.True(t, ok)
	assert.Equal(t, 0.5, fr.Time, "times within epsilon compare equal")

	_, ok = c.AtOrBefore(-0.1)
	assert.False(t, ok, "nothing before the first frame")
}

func TestCache_Nearest(t *testing.T) {
	c := cacheWithTimes(t, 0.0, 0.5, 1.0)

	tests := []struct {
		t    float64
		want float64
	}{
		{0.9, 1.0},
		{0.6, 0.5},
		{0.25, 0.0}, // tie resolves to the earlier frame
		{-3, 0.0},
		{42, 1.0},
	}
	for _, tt := range tests {
		fr, ok := c.Nearest(tt.t)
		require.True(t, ok)
		assert.Equal(t, tt.want, fr.Time, "nearest(%v)", tt.t)
	}

	_, ok := NewCache().Nearest(1)
	assert.False(t, ok)
}

func TestCache_OutOfOrder(t *testing.T) {
	c := cacheWithTimes(t, 0.0, 0.5)

	_, err := c.Append(FrameResult{Time: 0.2})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 2, c.Len())

	idx, err := c.Append(FrameResult{Time: 0.5 - Epsilon/10})
	require.NoError(t, err)
	fr, _ := c.At(idx)
	assert.Equal(t, 0.5, fr.Time, "small regressions are clamped")
}

func TestCache_AppendAllIsAtomic(t *testing.T) {
	c := cacheWithTimes(t, 0.0)

	err := c.AppendAll([]FrameResult{{Time: 1}, {Time: 2}, {Time: 1.5}})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.AppendAll([]FrameResult{{Time: 1}, {Time: 2}}))
	assert.Equal(t, 3, c.Len())
	fr, ok := c.At(2)
	require.True(t, ok)
	assert.Equal(t, 2, fr.Index)
}

func TestCache_SnapshotIsStable(t *testing.T) {
	c := cacheWithTimes(t, 0, 1)
	snap := c.Snapshot()
	_, err := c.Append(FrameResult{Time: 2})
	require.NoError(t, err)

	assert.Len(t, snap, 2)
	assert.Len(t, c.Upto(1), 2)
	assert.Len(t, c.Upto(5), 3)
	assert.Empty(t, c.Upto(-1))
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = c.Append(FrameResult{Time: float64(i)})
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := c.Snapshot()
				for j := 1; j < len(snap); j++ {
					if snap[j].Time < snap[j-1].Time {
						t.Errorf("snapshot not ordered at %d", j)
						return
					}
				}
				c.Nearest(float64(i))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, c.Len())
}

func sampleFrames() []FrameResult {
	return []FrameResult{
		{Index: 0, Time: 0, Detections: []detect.Detection{
			{ID: 0, CenterX: 10, CenterY: 10, Score: 0.9, Box: detect.Box{0, 0, 0.1, 0.1}},
			{ID: 1, CenterX: 50, CenterY: 60, Score: 0.6},
		}},
		{Index: 1, Time: 0.5, Detections: []detect.Detection{
			{ID: 0, CenterX: 12, CenterY: 10, Score: 0.8, Box: detect.Box{0, 0.01, 0.1, 0.11}},
		}, TrackPoint: &tracking.Point{X: 12, Y: 10}, TrackState: "tracking"},
		{Index: 2, Time: 1.0, Detections: []detect.Detection{
			{ID: 0, CenterX: 14, CenterY: 10, Score: 0.875},
		}, TrackPoint: &tracking.Point{X: 14, Y: 10}, TrackState: "tracking"},
	}
}

func TestBuildScene_TrailIsCumulativeOverlayIsInstant(t *testing.T) {
	scene := BuildScene(sampleFrames(), 0.6, DefaultLabels, true)

	require.Len(t, scene.Trail, 3, "two untracked centres plus one track point")
	assert.False(t, scene.Trail[0].Tracked)
	assert.True(t, scene.Trail[2].Tracked)
	assert.Equal(t, 12.0, scene.Trail[2].X)

	assert.Equal(t, 1, scene.FrameIndex)
	require.Len(t, scene.Markers, 1)
	m := scene.Markers[0]
	assert.Equal(t, "object", m.Label)
	assert.Equal(t, "object 80.0%", m.Caption)
	assert.Equal(t, Palette[0], m.Color)
	require.NotNil(t, m.Box)

	noBoxes := BuildScene(sampleFrames(), 0.6, DefaultLabels, false)
	assert.Nil(t, noBoxes.Markers[0].Box)
}

func TestBuildScene_Idempotent(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.AppendAll(sampleFrames()))

	first := c.Scene(0.9, DefaultLabels, true)
	second := c.Scene(0.9, DefaultLabels, true)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("replay differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, 1, first.FrameIndex, "the overlay never shows a later frame")
}

func TestBuildScene_OverlayNotAfterTime(t *testing.T) {
	frames := sampleFrames()

	scene := BuildScene(frames, 0.9, DefaultLabels, true)
	require.NotEmpty(t, scene.Trail)
	assert.Equal(t, 0.5, scene.Trail[len(scene.Trail)-1].Time)
	assert.Equal(t, 0.5, scene.FrameTime)
	assert.Equal(t, 1, scene.FrameIndex)
	require.Len(t, scene.Markers, 1)
	assert.Equal(t, 12.0, scene.Markers[0].X)

	scene = BuildScene(frames, 1.0, DefaultLabels, true)
	assert.Equal(t, 2, scene.FrameIndex)

	// Before the first frame the first frame is shown, with no trail.
	scene = BuildScene(frames, -0.5, DefaultLabels, true)
	assert.Equal(t, 0, scene.FrameIndex)
	assert.Empty(t, scene.Trail)
	assert.Len(t, scene.Markers, 2)
}

func TestBuildScene_TrailUsesTrackClassColor(t *testing.T) {
	frames := []FrameResult{
		{Index: 0, Time: 0, TrackPoint: &tracking.Point{X: 1, Y: 1, Class: 3}, TrackState: "tracking"},
		{Index: 1, Time: 0.1, TrackPoint: &tracking.Point{X: 2, Y: 1, Class: 3}, TrackState: "lost"},
	}

	scene := BuildScene(frames, 1, DefaultLabels, false)
	require.Len(t, scene.Trail, 2)
	for _, p := range scene.Trail {
		assert.True(t, p.Tracked)
		assert.Equal(t, Color(3), p.Color)
	}
}

func TestBuildScene_Empty(t *testing.T) {
	scene := BuildScene(nil, 3, DefaultLabels, true)
	assert.Equal(t, -1, scene.FrameIndex)
	assert.Empty(t, scene.Trail)
	assert.Empty(t, scene.Markers)
}

func TestPaletteAndLabels(t *testing.T) {
	assert.Equal(t, "#FF3838", Color(0))
	assert.Equal(t, "#FF3838", Color(20))
	assert.Equal(t, "#FF37C7", Color(19))
	assert.Equal(t, "#FF9D97", Color(-1))

	assert.Equal(t, "object", Label(DefaultLabels, 0))
	assert.Equal(t, "class 3", Label(DefaultLabels, 3))
}
