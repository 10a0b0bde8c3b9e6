package runs

import (
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
)

// Selection picks one detection of a processed frame to seed tracking.
type Selection struct {
	RunID       string  `json:"run_id"`
	Time        float64 `json:"time"`
	DetectionID int     `json:"detection_id"`
}

// Request describes a run to start.
type Request struct {
	Start     float64    `json:"start"`
	End       float64    `json:"end"`
	FrameSkip int        `json:"frame_skip"`
	Mode      string     `json:"mode"`
	Track     *Selection `json:"track,omitempty"`
}

// Status is a point-in-time view of a run.
type Status struct {
	ID         string          `json:"id"`
	Mode       pipeline.Mode   `json:"mode"`
	Status     state.RunStatus `json:"status"`
	Start      float64         `json:"start"`
	End        float64         `json:"end"`
	FrameSkip  int             `json:"frame_skip"`
	Seed       *tracking.Seed  `json:"seed,omitempty"`
	TrackID    string          `json:"track_id,omitempty"`
	TrackLost  bool            `json:"track_lost"`
	Stats      pipeline.Stats  `json:"stats"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// run is one execution owned by the manager.
type run struct {
	id      string
	opts    pipeline.Options
	cache   *timeline.Cache
	driver  *pipeline.Driver
	created time.Time
	done    chan struct{}

	mu       sync.RWMutex
	status   state.RunStatus
	stats    pipeline.Stats
	start    float64
	end      float64
	trackID  string
	lost     bool
	err      error
	finished *time.Time
}

func (r *run) snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		ID:         r.id,
		Mode:       r.opts.Mode,
		Status:     r.status,
		Start:      r.start,
		End:        r.end,
		FrameSkip:  r.opts.FrameSkip,
		Seed:       r.opts.Seed,
		TrackID:    r.trackID,
		TrackLost:  r.lost,
		Stats:      r.stats,
		CreatedAt:  r.created,
		FinishedAt: r.finished,
	}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

func (r *run) setStats(s pipeline.Stats) {
	r.mu.Lock()
	r.stats = s
	r.mu.Unlock()
}

// finishedRunning reports whether the run's goroutine, persistence
// included, is done.
func (r *run) finishedRunning() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// record converts the run to its persisted form.
func (r *run) record(videoPath string) state.RunRecord {
	st := r.snapshot()
	return state.RunRecord{
		ID:         st.ID,
		VideoPath:  videoPath,
		Mode:       string(st.Mode),
		Status:     st.Status,
		Start:      st.Start,
		End:        st.End,
		FrameSkip:  st.FrameSkip,
		Seed:       st.Seed,
		TrackID:    st.TrackID,
		TrackLost:  st.TrackLost,
		Frames:     st.Stats.Frames,
		Detections: st.Stats.Detections,
		Error:      st.Error,
		CreatedAt:  st.CreatedAt,
		FinishedAt: st.FinishedAt,
	}
}

// statusFromRecord rebuilds a Status for a run that is not in memory.
func statusFromRecord(rec state.RunRecord) Status {
	st := Status{
		ID:         rec.ID,
		Mode:       pipeline.Mode(rec.Mode),
		Status:     rec.Status,
		Start:      rec.Start,
		End:        rec.End,
		FrameSkip:  rec.FrameSkip,
		Seed:       rec.Seed,
		TrackID:    rec.TrackID,
		TrackLost:  rec.TrackLost,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: rec.FinishedAt,
		Stats: pipeline.Stats{
			Frames:     rec.Frames,
			Detections: rec.Detections,
		},
	}
	if rec.Status == state.RunCompleted {
		st.Stats.Progress = 1
	}
	return st
}
