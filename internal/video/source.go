// Package video provides seekable frame sources for the processing pipeline.
package video

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrNoVideoInfo is returned when frame rate or duration metadata is
	// missing or not positive.
	ErrNoVideoInfo = errors.New("video info unavailable")

	// ErrSeekTimeout is returned when a seek does not complete in time.
	ErrSeekTimeout = errors.New("seek timed out")
)

// Info is the metadata of a video.
type Info struct {
	FPS        float64 `json:"fps"`
	Duration   float64 `json:"duration"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Format     string  `json:"format"`
}

// Validate reports ErrNoVideoInfo when the timing metadata is unusable.
func (i Info) Validate() error {
	if !(i.FPS > 0) || math.IsInf(i.FPS, 0) {
		return fmt.Errorf("%w: fps %v", ErrNoVideoInfo, i.FPS)
	}
	if !(i.Duration > 0) || math.IsInf(i.Duration, 0) {
		return fmt.Errorf("%w: duration %v", ErrNoVideoInfo, i.Duration)
	}
	return nil
}

// FrameDuration returns the time between two frames in seconds.
func (i Info) FrameDuration() float64 {
	if i.FPS <= 0 {
		return 0
	}
	return 1 / i.FPS
}

// FrameRate derives the frame rate from the frame count and duration the way
// a seekable player spaces frames: the first frame is at 0 and the last one at
// the duration. The result is rounded to 6 decimals.
func FrameRate(frameCount int, duration float64) float64 {
	if frameCount < 2 || duration <= 0 {
		return 0
	}
	fps := float64(frameCount-1) / duration
	return math.Round(fps*1e6) / 1e6
}

// Source is a seekable video. Seek is asynchronous: the returned channel is
// closed once, when the seek has finished. A seek that could not produce a
// frame leaves the position unchanged and is reported by Err. A newer seek
// supersedes one still in flight.
type Source interface {
	Info() Info
	Position() float64
	Seek(t float64) <-chan struct{}
	Frame() (image.Image, error)
	// Err returns the error of the last finished seek, nil on success.
	Err() error
}

// clamp limits t to the playable range [0, duration].
func clamp(t, duration float64) float64 {
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	if t > duration {
		return duration
	}
	return t
}
