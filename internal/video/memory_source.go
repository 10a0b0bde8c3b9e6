package video

import (
	"errors"
	"image"
	"math"
	"sync"
	"time"
)

// MemorySource serves pre-decoded frames. It backs replays of still images
// and tests of the frame-advance loop.
type MemorySource struct {
	info   Info
	frames []image.Image

	// SeekDelay postpones seek completion.
	SeekDelay time.Duration
	// Stall makes seeks never complete.
	Stall bool

	mu    sync.Mutex
	pos   float64
	seeks []float64
}

// NewMemorySource spaces frames 1/fps apart starting at 0.
func NewMemorySource(frames []image.Image, fps float64) *MemorySource {
	info := Info{FPS: fps, FrameCount: len(frames), Format: "memory"}
	if fps > 0 && len(frames) > 1 {
		info.Duration = float64(len(frames)-1) / fps
	}
	if len(frames) > 0 && frames[0] != nil {
		b := frames[0].Bounds()
		info.Width, info.Height = b.Dx(), b.Dy()
	}
	return &MemorySource{info: info, frames: frames}
}

// WithInfo replaces the reported metadata.
func (m *MemorySource) WithInfo(info Info) *MemorySource {
	m.info = info
	return m
}

// Info returns the metadata.
func (m *MemorySource) Info() Info { return m.info }

// Position returns the current time.
func (m *MemorySource) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// Seeks returns the requested seek targets in order.
func (m *MemorySource) Seeks() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.seeks...)
}

// Seek moves to t, clamped to the duration.
func (m *MemorySource) Seek(t float64) <-chan struct{} {
	done := make(chan struct{})
	target := clamp(t, m.info.Duration)

	m.mu.Lock()
	m.seeks = append(m.seeks, t)
	m.mu.Unlock()

	if m.Stall {
		return done
	}

	complete := func() {
		m.mu.Lock()
		m.pos = target
		m.mu.Unlock()
		close(done)
	}
	if m.SeekDelay > 0 {
		time.AfterFunc(m.SeekDelay, complete)
	} else {
		complete()
	}
	return done
}

// Frame returns the frame nearest the current position.
func (m *MemorySource) Frame() (image.Image, error) {
	if len(m.frames) == 0 {
		return nil, errors.New("no frames")
	}
	m.mu.Lock()
	pos := m.pos
	m.mu.Unlock()

	idx := int(math.Round(pos * m.info.FPS))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(m.frames) {
		idx = len(m.frames) - 1
	}
	return m.frames[idx], nil
}

// Err always returns nil; in-memory seeks cannot fail.
func (m *MemorySource) Err() error { return nil }
