// Package timeline stores processed frame results keyed by time and answers
// the scrub and replay queries over them.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/preprocess"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
)

// Epsilon is the time tolerance, in seconds, under which two frame times are
// considered equal.
const Epsilon = 1e-6

// ErrOutOfOrder is returned when a frame is appended earlier than the last one.
var ErrOutOfOrder = errors.New("frame time out of order")

// FrameResult is the processed output of one frame. Entries are immutable
// once appended.
type FrameResult struct {
	Index      int                   `json:"index"`
	Time       float64               `json:"time"`
	Detections []detect.Detection    `json:"detections"`
	Projection preprocess.Projection `json:"projection"`
	TrackPoint *tracking.Point       `json:"track_point,omitempty"`
	TrackState string                `json:"track_state,omitempty"`
}

// Cache is an append-only, time-ordered sequence of frame results. One writer
// appends; readers may query concurrently.
type Cache struct {
	mu     sync.RWMutex
	frames []FrameResult
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Append adds a frame and returns its index. A time regression within
// Epsilon is clamped to the last time.
func (c *Cache) Append(fr FrameResult) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.checkTime(len(c.frames), fr.Time, c.lastTime())
	if err != nil {
		return -1, err
	}
	fr.Time = t
	fr.Index = len(c.frames)
	c.frames = append(c.frames, fr)
	return fr.Index, nil
}

// AppendAll adds frames in one step. Either every frame is appended or none.
func (c *Cache) AppendAll(frs []FrameResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.lastTime()
	staged := make([]FrameResult, len(frs))
	for i, fr := range frs {
		t, err := c.checkTime(len(c.frames)+i, fr.Time, last)
		if err != nil {
			return err
		}
		fr.Time = t
		fr.Index = len(c.frames) + i
		staged[i] = fr
		last = t
	}
	c.frames = append(c.frames, staged...)
	return nil
}

func (c *Cache) lastTime() float64 {
	if len(c.frames) == 0 {
		return math.Inf(-1)
	}
	return c.frames[len(c.frames)-1].Time
}

func (c *Cache) checkTime(index int, t, last float64) (float64, error) {
	if math.IsNaN(t) {
		return 0, fmt.Errorf("frame %d: invalid time", index)
	}
	if t < last {
		if last-t > Epsilon {
			return 0, fmt.Errorf("%w: frame %d at t=%.6f after t=%.6f", ErrOutOfOrder, index, t, last)
		}
		return last, nil
	}
	return t, nil
}

// Len returns the number of frames.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// At returns the frame with the given index.
func (c *Cache) At(index int) (FrameResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.frames) {
		return FrameResult{}, false
	}
	return c.frames[index], true
}

// AtOrBefore returns the latest frame whose time is not after t.
func (c *Cache) AtOrBefore(t float64) (FrameResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return atOrBefore(c.frames, t)
}

// Nearest returns the frame closest to t in either direction. On an exact tie
// the earlier frame wins.
func (c *Cache) Nearest(t float64) (FrameResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nearest(c.frames, t)
}

// Snapshot returns the frames appended so far. The returned slice is not
// affected by later appends.
func (c *Cache) Snapshot() []FrameResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]FrameResult, len(c.frames))
	copy(out, c.frames)
	return out
}

// Upto returns every frame whose time is not after t.
func (c *Cache) Upto(t float64) []FrameResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := upperBound(c.frames, t)
	out := make([]FrameResult, n)
	copy(out, c.frames[:n])
	return out
}

// upperBound returns the number of frames with time <= t (within Epsilon).
func upperBound(frames []FrameResult, t float64) int {
	return sort.Search(len(frames), func(i int) bool {
		return frames[i].Time > t+Epsilon
	})
}

func atOrBefore(frames []FrameResult, t float64) (FrameResult, bool) {
	n := upperBound(frames, t)
	if n == 0 {
		return FrameResult{}, false
	}
	return frames[n-1], true
}

func nearest(frames []FrameResult, t float64) (FrameResult, bool) {
	if len(frames) == 0 {
		return FrameResult{}, false
	}
	n := upperBound(frames, t)
	switch {
	case n == 0:
		return frames[0], true
	case n == len(frames):
		return frames[n-1], true
	}
	before, after := frames[n-1], frames[n]
	if after.Time-t < t-before.Time {
		return after, true
	}
	return before, true
}
