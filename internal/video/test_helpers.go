package video

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	log := logger.NewNopLogger()
	ffmpeg, err := NewFFmpegWrapper("ffmpeg", "ffprobe", log)
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// makeTestVideo renders a short synthetic clip with a known frame count.
func makeTestVideo(t *testing.T, ffmpeg *FFmpegWrapper, frames, fps int) string {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi",
		"-i", "testsrc=size=160x90:rate=" + strconv.Itoa(fps),
		"-frames:v", strconv.Itoa(frames),
		"-pix_fmt", "yuv420p",
		path,
	}
	if out, err := ffmpeg.BuildCommand(ctx, args).CombinedOutput(); err != nil {
		t.Skipf("cannot render test video: %v: %s", err, out)
	}
	return path
}
