package video

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
)

func TestFrameRate(t *testing.T) {
	assert.Equal(t, 30.0, FrameRate(301, 10))
	assert.Equal(t, 24.9, FrameRate(250, 10))
	assert.Equal(t, 3.333333, FrameRate(4, 0.9))
	assert.Equal(t, 0.0, FrameRate(1, 10))
	assert.Equal(t, 0.0, FrameRate(100, 0))
}

func TestInfo_Validate(t *testing.T) {
	assert.NoError(t, Info{FPS: 25, Duration: 4}.Validate())

	for _, info := range []Info{{}, {FPS: 25}, {Duration: 4}, {FPS: -1, Duration: 4}} {
		err := info.Validate()
		assert.True(t, errors.Is(err, ErrNoVideoInfo), "%+v: %v", info, err)
	}
}

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_type": "video", "width": 1280, "height": 720,
		             "nb_frames": "301", "duration": "10.000000"}],
		"format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "10.020000"}
	}`)
	info, err := ParseProbeOutput(data)
	require.NoError(t, err)
	assert.Equal(t, Info{
		FPS:        30,
		Duration:   10,
		FrameCount: 301,
		Width:      1280,
		Height:     720,
		Format:     "mov,mp4,m4a,3gp,3g2,mj2",
	}, info)
}

func TestParseProbeOutput_FallbacksAndErrors(t *testing.T) {
	// Packet count and container duration stand in for missing stream values.
	info, err := ParseProbeOutput([]byte(`{
		"streams": [{"width": 64, "height": 48, "nb_read_packets": "51"}],
		"format": {"format_name": "matroska,webm", "duration": "2.0"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 51, info.FrameCount)
	assert.Equal(t, 25.0, info.FPS)

	tests := map[string]string{
		"not json":    `{`,
		"no stream":   `{"streams": [], "format": {}}`,
		"audio only":  `{"streams": [{"codec_type": "audio"}], "format": {"duration": "3"}}`,
		"no frames":   `{"streams": [{"codec_type": "video"}], "format": {"duration": "3"}}`,
		"no duration": `{"streams": [{"codec_type": "video", "nb_frames": "10"}], "format": {}}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProbeOutput([]byte(data))
			assert.ErrorIs(t, err, ErrNoVideoInfo)
		})
	}
}

func solidFrames(n int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = image.NewRGBA(image.Rect(0, 0, 8, 4))
	}
	return frames
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(solidFrames(11), 10)
	info := src.Info()
	assert.Equal(t, 1.0, info.Duration)
	assert.Equal(t, 8, info.Width)
	assert.Equal(t, 4, info.Height)

	<-src.Seek(0.31)
	assert.InDelta(t, 0.31, src.Position(), 1e-9)
	frame, err := src.Frame()
	require.NoError(t, err)
	assert.Same(t, src.frames[3], frame)

	<-src.Seek(7)
	assert.Equal(t, 1.0, src.Position(), "seeks clamp to the duration")
	assert.Equal(t, []float64{0.31, 7}, src.Seeks())
}

func TestMemorySource_DelayAndStall(t *testing.T) {
	src := NewMemorySource(solidFrames(3), 1)
	src.SeekDelay = 20 * time.Millisecond

	done := src.Seek(1)
	assert.Equal(t, 0.0, src.Position())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed seek never completed")
	}
	assert.Equal(t, 1.0, src.Position())

	src.Stall = true
	select {
	case <-src.Seek(2):
		t.Fatal("stalled seek completed")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestFFmpegWrapper_BuildCommand(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	args := []string{"-version"}
	cmd := ffmpeg.BuildCommand(context.Background(), args)
	require.NotNil(t, cmd)
	assert.NotEmpty(t, cmd.Path)
	assert.Equal(t, "-version", cmd.Args[len(cmd.Args)-1])

	version, err := ffmpeg.GetVersion()
	require.NoError(t, err)
	assert.NotEmpty(t, version)
}

func TestFFmpegWrapper_ValidateInput_Invalid(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	assert.Error(t, ffmpeg.ValidateInput(context.Background(), "/nonexistent/clip.mp4"))
}

func TestFileSource_ProbeAndSeek(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	path := makeTestVideo(t, ffmpeg, 21, 10)

	info, err := ffmpeg.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 160, info.Width)
	assert.Equal(t, 90, info.Height)
	assert.Equal(t, 21, info.FrameCount)
	assert.InDelta(t, 10.0, info.FPS, 1.0)

	src, err := OpenFile(context.Background(), ffmpeg, path, 10*time.Second, logger.NewNopLogger())
	require.NoError(t, err)
	defer src.Close()

	select {
	case <-src.Seek(1.0):
	case <-time.After(15 * time.Second):
		t.Fatal("seek did not complete")
	}
	assert.InDelta(t, 1.0, src.Position(), 1e-9)

	frame, err := src.Frame()
	require.NoError(t, err)
	assert.Equal(t, 160, frame.Bounds().Dx())
}
