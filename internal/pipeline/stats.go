package pipeline

import (
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
)

// Stats are the running figures of a run.
type Stats struct {
	Frames     int           `json:"frames"`
	Detections int           `json:"detections"`
	Elapsed    time.Duration `json:"elapsed"`
	Throughput float64       `json:"throughput"` // frames per second of wall time
	Position   float64       `json:"position"`
	Progress   float64       `json:"progress"` // 0..1 over [start, end]
}

func (s *Stats) record(fr timeline.FrameResult, began time.Time, start, end float64) {
	s.Frames++
	s.Detections += len(fr.Detections)
	s.Elapsed = time.Since(began)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Throughput = float64(s.Frames) / secs
	}
	s.Position = fr.Time
	s.Progress = progress(fr.Time, start, end)
}

func progress(t, start, end float64) float64 {
	if end <= start {
		return 1
	}
	p := (t - start) / (end - start)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Observer receives every processed frame with the running stats. In
// realtime mode the frame is already cached when OnFrame is called.
type Observer interface {
	OnFrame(fr timeline.FrameResult, stats Stats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(fr timeline.FrameResult, stats Stats)

// OnFrame calls f.
func (f ObserverFunc) OnFrame(fr timeline.FrameResult, stats Stats) {
	f(fr, stats)
}
