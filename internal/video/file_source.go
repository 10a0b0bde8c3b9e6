package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

var errNoFrameData = errors.New("no frame data extracted")

// FileSource is a seekable video file decoded one frame at a time by ffmpeg.
type FileSource struct {
	logger       *logger.Logger
	ffmpeg       *FFmpegWrapper
	path         string
	info         Info
	frameTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// decode is decodeAt outside of tests.
	decode func(ctx context.Context, t float64) (image.Image, error)

	mu         sync.RWMutex
	pos        float64
	frame      image.Image
	err        error
	gen        uint64
	seekCancel context.CancelFunc
}

// OpenFile probes a video file and decodes its first frame.
func OpenFile(ctx context.Context, ffmpeg *FFmpegWrapper, path string, frameTimeout time.Duration, log *logger.Logger) (*FileSource, error) {
	if err := ffmpeg.ValidateInput(ctx, path); err != nil {
		return nil, err
	}
	info, err := ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if frameTimeout <= 0 {
		frameTimeout = 10 * time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	s := &FileSource{
		logger:       log,
		ffmpeg:       ffmpeg,
		path:         path,
		info:         info,
		frameTimeout: frameTimeout,
		ctx:          base,
		cancel:       cancel,
	}
	s.decode = s.decodeAt

	frame, err := s.decodeAt(base, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to decode first frame: %w", err)
	}
	s.frame = frame

	log.Info("Video opened",
		"path", path,
		"fps", info.FPS,
		"duration", info.Duration,
		"frames", info.FrameCount,
		"width", info.Width,
		"height", info.Height,
	)
	return s, nil
}

// Info returns the probed metadata.
func (s *FileSource) Info() Info { return s.info }

// Position returns the time of the current frame.
func (s *FileSource) Position() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// Seek decodes the frame at t in the background. Starting a seek cancels the
// decode of the previous one, whose result is then discarded.
func (s *FileSource) Seek(t float64) <-chan struct{} {
	done := make(chan struct{})
	target := clamp(t, s.info.Duration)

	s.mu.Lock()
	if s.seekCancel != nil {
		s.seekCancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.seekCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		frame, err := s.decode(ctx, target)

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			s.logger.Debug("Discarding superseded seek", "time", target)
			return
		}
		if err != nil {
			s.err = fmt.Errorf("decode frame at t=%.3f: %w", target, err)
			return
		}
		s.pos = target
		s.frame = frame
		s.err = nil
	}()

	return done
}

// Frame returns the current frame, or the error of the last seek.
func (s *FileSource) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.frame, nil
}

// Err returns the error of the last finished seek.
func (s *FileSource) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close aborts any running decode.
func (s *FileSource) Close() error {
	s.cancel()
	return nil
}

// decodeAt extracts the frame at t. Seeking to the very end yields no frame
// on most containers, so the previous frame is tried once.
func (s *FileSource) decodeAt(ctx context.Context, t float64) (image.Image, error) {
	img, err := s.extract(ctx, t)
	if errors.Is(err, errNoFrameData) && t > 0 && ctx.Err() == nil {
		img, err = s.extract(ctx, max(t-s.info.FrameDuration(), 0))
	}
	return img, err
}

func (s *FileSource) extract(parent context.Context, t float64) (image.Image, error) {
	ctx, cancel := context.WithTimeout(parent, s.frameTimeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(t, 'f', 6, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}

	cmd := s.ffmpeg.BuildCommand(ctx, args)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &bytes.Buffer{}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, errNoFrameData
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}
	return img, nil
}
