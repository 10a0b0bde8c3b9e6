package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

// FFmpegWrapper locates and runs the ffmpeg and ffprobe binaries
type FFmpegWrapper struct {
	logger      *logger.Logger
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegWrapper creates a new FFmpeg wrapper. The configured paths are
// tried first, then the common install locations.
func NewFFmpegWrapper(ffmpegPath, ffprobePath string, log *logger.Logger) (*FFmpegWrapper, error) {
	ffmpeg, err := detectBinary(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobe, err := detectBinary(ffprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	wrapper := &FFmpegWrapper{
		logger:      log,
		ffmpegPath:  ffmpeg,
		ffprobePath: ffprobe,
	}

	log.Info("FFmpeg wrapper initialized",
		"ffmpeg", wrapper.ffmpegPath,
		"ffprobe", wrapper.ffprobePath,
	)

	return wrapper, nil
}

// detectBinary finds an executable that answers -version
func detectBinary(configured, name string) (string, error) {
	paths := []string{name, "/usr/bin/" + name, "/usr/local/bin/" + name}
	if configured != "" && configured != name {
		paths = append([]string{configured}, paths...)
	}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// BuildCommand builds an ffmpeg command
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// BuildProbeCommand builds an ffprobe command
func (f *FFmpegWrapper) BuildProbeCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffprobePath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// ValidateInput checks that a video file exists and ffmpeg can decode it
func (f *FFmpegWrapper) ValidateInput(ctx context.Context, input string) error {
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-frames:v", "1",
		"-f", "null",
		"-",
	}

	cmd := f.BuildCommand(ctx, args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "Invalid data found") {
			return fmt.Errorf("invalid input: %s: %w", strings.TrimSpace(string(output)), err)
		}
		return fmt.Errorf("input validation failed: %w", err)
	}

	return nil
}
