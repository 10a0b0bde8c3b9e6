// Package pipeline drives the sequential seek, detect, track and record loop
// over an interval of a video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/nms"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/preprocess"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tracking"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
)

// positionEpsilon is the smallest step counted as the source advancing.
const positionEpsilon = 1e-6

// Mode selects when results become visible.
type Mode string

const (
	// ModeBatch publishes every frame to the cache once the interval is done.
	ModeBatch Mode = "batch"
	// ModeRealtime publishes each frame as soon as it is processed.
	ModeRealtime Mode = "realtime"
)

// ParseMode accepts "batch" and "realtime"; empty means batch.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBatch:
		return ModeBatch, nil
	case ModeRealtime:
		return ModeRealtime, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Config is the driver tuning.
type Config struct {
	FrameSkip     int
	SeekTimeout   time.Duration
	SettleDelay   time.Duration
	StatsInterval int // realtime: log throughput every N frames
	BoxUnits      detect.BoxUnits
	NMS           nms.Config
	Tracker       tracking.Config
}

// DefaultConfig returns the stock driver tuning.
func DefaultConfig() Config {
	return Config{
		FrameSkip:     1,
		SeekTimeout:   5 * time.Second,
		SettleDelay:   10 * time.Millisecond,
		StatsInterval: 30,
		BoxUnits:      detect.UnitsNormalized,
		NMS:           nms.DefaultConfig(),
		Tracker:       tracking.DefaultConfig(),
	}
}

// Options describe one run.
type Options struct {
	Start float64
	End   float64 // <= 0 or past the duration means the end of the video
	// FrameSkip overrides Config.FrameSkip when positive.
	FrameSkip int
	Mode      Mode
	// Tracking requires Seed.
	Tracking bool
	Seed     *tracking.Seed
}

// Result is everything a run produced.
type Result struct {
	Frames    []timeline.FrameResult
	Start     float64
	End       float64
	TrackID   string
	TrackLost bool
	Stopped   bool
	Stats     Stats
}

// Driver runs the frame-advance loop over one source. A Driver serves a
// single Run.
type Driver struct {
	cfg    Config
	model  detect.Model
	source video.Source
	logger *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDriver creates a driver.
func NewDriver(model detect.Model, source video.Source, cfg Config, log *logger.Logger) *Driver {
	if cfg.FrameSkip < 1 {
		cfg.FrameSkip = 1
	}
	return &Driver{
		cfg:    cfg,
		model:  model,
		source: source,
		logger: log,
		stopCh: make(chan struct{}),
	}
}

// Stop asks the loop to end at the next iteration and releases a pending
// seek wait. It is safe to call more than once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *Driver) stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Run processes [Start, End]. In realtime mode each frame is appended to cache
// before it is passed to obs; in batch mode obs sees each frame as it is
// processed and the cache receives every frame at once after the interval
// completes. cache and obs may be nil.
//
// On abort the returned Result holds the frames processed so far and the
// error is a *FrameError. A stop returns ErrStopped. Track loss ends the run
// without error and sets Result.TrackLost.
func (d *Driver) Run(ctx context.Context, opts Options, cache *timeline.Cache, obs Observer) (*Result, error) {
	if opts.Tracking && opts.Seed == nil {
		return nil, ErrInvalidAssociationState
	}
	if opts.Mode == "" {
		opts.Mode = ModeBatch
	}

	info := d.source.Info()
	if err := info.Validate(); err != nil {
		return nil, err
	}

	start, end := clampRange(opts.Start, opts.End, info.Duration)
	skip := d.cfg.FrameSkip
	if opts.FrameSkip > 0 {
		skip = opts.FrameSkip
	}
	step := float64(skip) * info.FrameDuration()

	var tracker *tracking.Tracker
	if opts.Tracking {
		tracker = tracking.New(*opts.Seed, d.cfg.Tracker)
	}

	res := &Result{Start: start, End: end, Frames: []timeline.FrameResult{}}
	if tracker != nil {
		res.TrackID = tracker.ID()
	}
	log := d.logger
	if tracker != nil {
		log = log.WithFields(zap.String("track_id", tracker.ID()))
	}

	log.Info("Processing started",
		"start", start,
		"end", end,
		"frame_skip", skip,
		"mode", string(opts.Mode),
		"tracking", tracker != nil,
	)

	began := time.Now()
	last := -1.0

	fail := func(t float64, err error) (*Result, error) {
		if errors.Is(err, ErrStopped) {
			res.Stopped = true
			log.Info("Processing stopped", "frames", len(res.Frames), zap.Float64(logger.FieldFrameTime, t))
			return res, err
		}
		log.Error("Processing aborted", "error", err, zap.Float64(logger.FieldFrameTime, t))
		return res, &FrameError{Time: t, LastProcessed: last, Err: err}
	}

	if err := d.seek(ctx, start); err != nil {
		return fail(start, err)
	}
	pos := d.source.Position()

	for pos < end {
		if err := d.checkStop(ctx); err != nil {
			return fail(pos, err)
		}

		fr, err := d.processFrame(ctx, pos)
		if err != nil {
			return fail(pos, err)
		}

		lost := false
		if tracker != nil {
			tr, err := tracker.Step(pos, fr.Detections)
			if err != nil {
				return fail(pos, err)
			}
			fr.TrackState = tr.State.String()
			point := tr.Point
			fr.TrackPoint = &point
			lost = tr.State == tracking.Lost
		}

		if opts.Mode == ModeRealtime && cache != nil {
			idx, err := cache.Append(fr)
			if err != nil {
				return fail(pos, err)
			}
			fr.Index = idx
		} else {
			fr.Index = len(res.Frames)
		}
		res.Frames = append(res.Frames, fr)
		last = fr.Time
		res.Stats.record(fr, began, start, end)

		log.Debug("Frame processed",
			zap.Float64(logger.FieldFrameTime, pos),
			"detections", len(fr.Detections),
			"track_state", fr.TrackState,
		)

		if obs != nil {
			obs.OnFrame(fr, res.Stats)
		}
		if opts.Mode == ModeRealtime {
			if d.cfg.StatsInterval > 0 && res.Stats.Frames%d.cfg.StatsInterval == 0 {
				log.Info("Processing throughput",
					"frames", res.Stats.Frames,
					"elapsed", res.Stats.Elapsed.String(),
					"fps", res.Stats.Throughput,
					"progress", res.Stats.Progress,
				)
			}
		}

		if lost {
			res.TrackLost = true
			log.Warn("Track lost",
				zap.Float64(logger.FieldFrameTime, pos),
				"missed_frames", tracker.MissedFrames(),
			)
			break
		}

		next := min(pos+step, end)
		if err := d.seek(ctx, next); err != nil {
			return fail(next, err)
		}
		advanced := d.source.Position()
		if advanced <= pos+positionEpsilon {
			log.Debug("Source did not advance, ending run", "position", advanced)
			break
		}
		pos = advanced
	}

	if opts.Mode == ModeBatch && cache != nil {
		if err := cache.AppendAll(res.Frames); err != nil {
			return fail(last, err)
		}
	}

	res.Stats.Elapsed = time.Since(began)
	log.Info("Processing finished",
		"frames", res.Stats.Frames,
		"detections", res.Stats.Detections,
		"elapsed", res.Stats.Elapsed.String(),
		"track_lost", res.TrackLost,
	)
	return res, nil
}

// processFrame turns the current frame into its detection set. Every tensor
// of the frame is released before it returns.
func (d *Driver) processFrame(ctx context.Context, t float64) (timeline.FrameResult, error) {
	arena := tensor.NewArena()
	defer arena.Release()

	img, err := d.source.Frame()
	if err != nil {
		return timeline.FrameResult{}, fmt.Errorf("read frame: %w", err)
	}

	w, h := d.model.InputSize()
	in, err := preprocess.Letterbox(img, w, h, arena)
	if err != nil {
		return timeline.FrameResult{}, fmt.Errorf("preprocess: %w", err)
	}

	boxes, scores, err := d.model.Infer(ctx, in.Tensor, arena)
	if err != nil {
		return timeline.FrameResult{}, fmt.Errorf("inference: %w", err)
	}
	arena.Track(boxes)
	arena.Track(scores)

	cands, err := detect.Decode(boxes, scores, detect.DecodeOptions{
		Units:       d.cfg.BoxUnits,
		ModelWidth:  w,
		ModelHeight: h,
	})
	if err != nil {
		return timeline.FrameResult{}, err
	}

	selected := nms.SuppressCandidates(cands, d.cfg.NMS)
	proj := in.Projection()
	return timeline.FrameResult{
		Time:       t,
		Detections: detect.BuildSet(cands, selected, proj),
		Projection: proj,
	}, nil
}

// seek requests t and waits for completion, then for the settle delay.
func (d *Driver) seek(ctx context.Context, t float64) error {
	done := d.source.Seek(t)

	timer := time.NewTimer(d.cfg.SeekTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return fmt.Errorf("%w after %s", video.ErrSeekTimeout, d.cfg.SeekTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
	case <-d.stopCh:
		return ErrStopped
	}
	if err := d.source.Err(); err != nil {
		return fmt.Errorf("seek to t=%.3f: %w", t, err)
	}

	if d.cfg.SettleDelay <= 0 {
		return nil
	}
	settle := time.NewTimer(d.cfg.SettleDelay)
	defer settle.Stop()
	select {
	case <-settle.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
	case <-d.stopCh:
		return ErrStopped
	}
}

func (d *Driver) checkStop(ctx context.Context) error {
	if d.stopped() {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStopped, err)
	}
	return nil
}

func clampRange(start, end, duration float64) (float64, float64) {
	if end <= 0 || end > duration {
		end = duration
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	return start, end
}
