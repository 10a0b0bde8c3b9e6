package tracking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
)

func det(id int, x, y float64) detect.Detection {
	return detect.Detection{ID: id, CenterX: x, CenterY: y, Score: 0.9}
}

func TestTracker_ThreeFrameScenario(t *testing.T) {
	tr := New(Seed{X: 10, Y: 10, Time: 0}, DefaultConfig())
	assert.NotEmpty(t, tr.ID())

	r, err := tr.Step(1, []detect.Detection{det(0, 12, 10)})
	require.NoError(t, err)
	assert.Equal(t, Tracking, r.State)
	assert.Equal(t, 0, r.Missed)
	assert.InDelta(t, 12.0, r.Point.X, 0.01)
	assert.InDelta(t, 10.0, r.Point.Y, 1e-9)
	require.NotNil(t, r.Matched)

	r, err = tr.Step(2, []detect.Detection{det(0, 14, 10)})
	require.NoError(t, err)
	assert.Equal(t, Tracking, r.State)
	assert.Equal(t, 0, r.Missed)
	assert.InDelta(t, 14.0, r.Point.X, 0.01)
	assert.InDelta(t, 10.0, r.Point.Y, 1e-9)

	vx, _ := tr.Velocity()
	assert.InDelta(t, 2.0, vx, 0.1)
	assert.Equal(t, 2.0, tr.LastUpdateTime())
}

func TestTracker_ConvergesOnConstantVelocity(t *testing.T) {
	tr := New(Seed{X: 0, Y: 0, Time: 0}, DefaultConfig())

	for step := 1; step <= 8; step++ {
		ts := float64(step)
		trueX, trueY := 5*ts, -3*ts

		px, py := tr.Predict(ts)
		if step >= 2 {
			assert.Less(t, math.Hypot(px-trueX, py-trueY), 0.5, "prediction error at step %d", step)
		}
		require.NoError(t, tr.Update(trueX, trueY, ts))
	}

	x, y := tr.Position()
	assert.InDelta(t, 40.0, x, 0.05)
	assert.InDelta(t, -24.0, y, 0.05)
}

func TestTracker_MissedFrameBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMissedFrames = 3
	tr := New(Seed{X: 50, Y: 50, Time: 0}, cfg)

	for i := 1; i <= 3; i++ {
		r, err := tr.Step(float64(i), nil)
		require.NoError(t, err)
		assert.Equal(t, Coasting, r.State)
		assert.Equal(t, i, r.Missed)
		assert.Nil(t, r.Matched)
	}

	r, err := tr.Step(4, nil)
	require.NoError(t, err)
	assert.Equal(t, Lost, r.State)
	assert.Equal(t, Lost, tr.State())

	assert.ErrorIs(t, tr.Update(50, 50, 5), ErrLost)
	assert.Equal(t, Lost, tr.IncrementMissedFrames())
}

func TestTracker_RecoversAfterCoasting(t *testing.T) {
	tr := New(Seed{X: 0, Y: 0, Time: 0}, DefaultConfig())
	_, err := tr.Step(1, []detect.Detection{det(0, 10, 0)})
	require.NoError(t, err)

	r, err := tr.Step(2, nil)
	require.NoError(t, err)
	assert.Equal(t, Coasting, r.State)
	assert.Equal(t, 1, r.Missed)

	r, err = tr.Step(3, []detect.Detection{det(0, 30, 0)})
	require.NoError(t, err)
	assert.Equal(t, Tracking, r.State)
	assert.Equal(t, 0, r.Missed)
}

func TestTracker_CoastingDoesNotCompoundTime(t *testing.T) {
	tr := New(Seed{X: 0, Y: 0, Time: 0}, DefaultConfig())
	require.NoError(t, tr.Update(10, 0, 1))
	vx, _ := tr.Velocity()
	x0, _ := tr.Position()

	// Two coasted frames project from the same posterior.
	tr.Predict(2)
	tr.IncrementMissedFrames()
	px, _ := tr.Predict(3)
	assert.InDelta(t, x0+2*vx, px, 1e-9)
}

func TestTracker_Gating(t *testing.T) {
	tr := New(Seed{X: 0, Y: 0, Time: 0}, DefaultConfig())
	tr.Predict(0)

	_, dist, ok := tr.Associate([]detect.Detection{det(0, 100, 0)})
	assert.False(t, ok, "distance equal to the gate is not a match")
	assert.InDelta(t, 100.0, dist, 1e-9)

	d, _, ok := tr.Associate([]detect.Detection{det(0, 99.5, 0)})
	assert.True(t, ok)
	assert.Equal(t, 0, d.ID)

	_, _, ok = tr.Associate(nil)
	assert.False(t, ok)
}

func TestTracker_ConfigurableGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatingDistance = 250
	tr := New(Seed{X: 0, Y: 0, Time: 0}, cfg)
	tr.Predict(0)

	_, _, ok := tr.Associate([]detect.Detection{det(0, 200, 0)})
	assert.True(t, ok)
}

func TestTracker_AssociatesNearestSameClass(t *testing.T) {
	tr := New(Seed{Class: 2, X: 0, Y: 0, Time: 0}, DefaultConfig())
	tr.Predict(0)

	other := det(0, 1, 1)
	other.ClassIndex = 1
	far := det(1, 20, 0)
	far.ClassIndex = 2
	near := det(2, 5, 0)
	near.ClassIndex = 2

	d, dist, ok := tr.Associate([]detect.Detection{other, far, near})
	require.True(t, ok)
	assert.Equal(t, 2, d.ID)
	assert.InDelta(t, 5.0, dist, 1e-9)
}

func TestSeedFromDetection(t *testing.T) {
	d := detect.Detection{ID: 4, ClassIndex: 0, CenterX: 120, CenterY: 80}
	s := SeedFromDetection(d, 1.5)
	assert.Equal(t, Seed{DetectionID: 4, X: 120, Y: 80, Time: 1.5}, s)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "tracking", Tracking.String())
	assert.Equal(t, "coasting", Coasting.String())
	assert.Equal(t, "lost", Lost.String())
}
