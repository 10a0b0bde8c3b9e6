// Package tracking follows one operator-selected object across frames with a
// constant-velocity Kalman filter and nearest-neighbour association.
package tracking

import (
	"errors"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
)

// ErrLost is returned when a lost track is asked to update.
var ErrLost = errors.New("track lost")

// State is the tracker lifecycle state.
type State int

const (
	Tracking State = iota
	Coasting
	Lost
)

func (s State) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case Coasting:
		return "coasting"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Config holds tracker tuning.
type Config struct {
	MaxMissedFrames         int
	GatingDistance          float64 // source pixels
	ProcessNoisePos         float64
	ProcessNoiseVel         float64
	MeasurementNoise        float64
	InitialPositionVariance float64
	InitialVelocityVariance float64
}

// DefaultConfig returns the stock tracker tuning.
func DefaultConfig() Config {
	return Config{
		MaxMissedFrames:         10,
		GatingDistance:          100,
		ProcessNoisePos:         1,
		ProcessNoiseVel:         1,
		MeasurementNoise:        1,
		InitialPositionVariance: 1,
		InitialVelocityVariance: 1000,
	}
}

// Seed is the operator-selected detection a track starts from.
type Seed struct {
	DetectionID int     `json:"detection_id"`
	Class       int     `json:"class"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Time        float64 `json:"time"`
}

// SeedFromDetection builds a seed from a detection observed at time t.
func SeedFromDetection(d detect.Detection, t float64) Seed {
	return Seed{
		DetectionID: d.ID,
		Class:       d.ClassIndex,
		X:           d.CenterX,
		Y:           d.CenterY,
		Time:        t,
	}
}

// Point is a tracked position in source pixels.
type Point struct {
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
	Class int         `json:"class"`
	Box   *detect.Box `json:"box,omitempty"`
}

// Result is the outcome of one Step.
type Result struct {
	Point   Point
	State   State
	Missed  int
	Matched *detect.Detection
}

// Tracker owns the state of a single track.
type Tracker struct {
	cfg     Config
	id      string
	class   int
	kf      *filter
	state   State
	missed  int
	updated float64 // time of the last correction

	prior     *mat.VecDense
	priorCov  *mat.Dense
	priorTime float64
}

// New starts a track at the seed position.
func New(seed Seed, cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg,
		id:      uuid.New().String(),
		class:   seed.Class,
		kf:      newFilter(seed.X, seed.Y, cfg),
		state:   Tracking,
		updated: seed.Time,
	}
}

// ID returns the track identifier.
func (t *Tracker) ID() string { return t.id }

// Class returns the class index the track follows.
func (t *Tracker) Class() int { return t.class }

// State returns the lifecycle state.
func (t *Tracker) State() State { return t.state }

// MissedFrames returns the consecutive frames without association.
func (t *Tracker) MissedFrames() int { return t.missed }

// LastUpdateTime returns the time of the last successful update.
func (t *Tracker) LastUpdateTime() float64 { return t.updated }

// Position returns the posterior position.
func (t *Tracker) Position() (float64, float64) {
	return t.kf.mean.AtVec(0), t.kf.mean.AtVec(1)
}

// Velocity returns the posterior velocity in pixels per second.
func (t *Tracker) Velocity() (float64, float64) {
	return t.kf.mean.AtVec(2), t.kf.mean.AtVec(3)
}

// Predict projects the last corrected state to time ts and returns the
// predicted position. It does not change the missed-frame count.
func (t *Tracker) Predict(ts float64) (float64, float64) {
	t.prior, t.priorCov = t.kf.project(ts - t.updated)
	t.priorTime = ts
	return t.prior.AtVec(0), t.prior.AtVec(1)
}

// Associate picks the nearest same-class detection to the current prediction.
// A match requires a distance strictly below the gating distance.
func (t *Tracker) Associate(set []detect.Detection) (detect.Detection, float64, bool) {
	px, py := t.Position()
	if t.prior != nil {
		px, py = t.prior.AtVec(0), t.prior.AtVec(1)
	}

	best, bestDist, found := detect.Detection{}, math.Inf(1), false
	for _, d := range set {
		if d.ClassIndex != t.class {
			continue
		}
		dist := math.Hypot(d.CenterX-px, d.CenterY-py)
		if dist < bestDist {
			best, bestDist, found = d, dist, true
		}
	}
	if !found || bestDist >= t.cfg.GatingDistance {
		return detect.Detection{}, bestDist, false
	}
	return best, bestDist, true
}

// Update corrects the track with a measured centre at time ts.
func (t *Tracker) Update(x, y, ts float64) error {
	if t.state == Lost {
		return ErrLost
	}
	if t.prior == nil || t.priorTime != ts {
		t.Predict(ts)
	}
	if err := t.kf.correct(t.prior, t.priorCov, x, y); err != nil {
		return err
	}
	t.prior, t.priorCov = nil, nil
	t.updated = ts
	t.missed = 0
	t.state = Tracking
	return nil
}

// IncrementMissedFrames records a frame without association. The track is
// Lost once the count exceeds MaxMissedFrames.
func (t *Tracker) IncrementMissedFrames() State {
	if t.state == Lost {
		return Lost
	}
	t.missed++
	if t.missed > t.cfg.MaxMissedFrames {
		t.state = Lost
	} else {
		t.state = Coasting
	}
	return t.state
}

// Step runs predict, associate and update-or-coast for one frame.
func (t *Tracker) Step(ts float64, set []detect.Detection) (Result, error) {
	if t.state == Lost {
		x, y := t.Position()
		return Result{Point: Point{X: x, Y: y, Class: t.class}, State: Lost, Missed: t.missed}, nil
	}

	px, py := t.Predict(ts)
	match, _, ok := t.Associate(set)
	if !ok {
		state := t.IncrementMissedFrames()
		return Result{Point: Point{X: px, Y: py, Class: t.class}, State: state, Missed: t.missed}, nil
	}

	if err := t.Update(match.CenterX, match.CenterY, ts); err != nil {
		return Result{}, err
	}
	x, y := t.Position()
	box := match.Box
	return Result{
		Point:   Point{X: x, Y: y, Class: t.class, Box: &box},
		State:   t.state,
		Missed:  t.missed,
		Matched: &match,
	}, nil
}
