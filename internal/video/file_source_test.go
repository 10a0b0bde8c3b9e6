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

// newDecodingSource returns a FileSource whose frames come from decode
// instead of ffmpeg.
func newDecodingSource(t *testing.T, decode func(ctx context.Context, t float64) (image.Image, error)) *FileSource {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &FileSource{
		logger: logger.NewNopLogger(),
		info:   Info{FPS: 10, Duration: 5},
		ctx:    ctx,
		cancel: cancel,
		decode: decode,
		frame:  image.NewGray(image.Rect(0, 0, 1, 1)),
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("seek did not finish")
	}
}

func TestFileSource_NewerSeekSupersedesOlder(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slowCtxErr := make(chan error, 1)
	fast := image.NewGray(image.Rect(0, 0, 2, 2))

	src := newDecodingSource(t, func(ctx context.Context, at float64) (image.Image, error) {
		if at == 1 {
			close(started)
			<-release
			slowCtxErr <- ctx.Err()
			return image.NewGray(image.Rect(0, 0, 3, 3)), nil
		}
		return fast, nil
	})

	slow := src.Seek(1)
	<-started
	waitDone(t, src.Seek(2))
	close(release)
	waitDone(t, slow)

	assert.ErrorIs(t, <-slowCtxErr, context.Canceled, "the older decode is cancelled")
	assert.Equal(t, 2.0, src.Position(), "a late result never overwrites a newer seek")
	frame, err := src.Frame()
	require.NoError(t, err)
	assert.Same(t, fast, frame)
	assert.NoError(t, src.Err())
}

func TestFileSource_FailedSeekKeepsPosition(t *testing.T) {
	errDecode := errors.New("corrupt packet")
	src := newDecodingSource(t, func(_ context.Context, at float64) (image.Image, error) {
		if at > 2 {
			return nil, errDecode
		}
		return image.NewGray(image.Rect(0, 0, 1, 1)), nil
	})

	waitDone(t, src.Seek(1))
	assert.NoError(t, src.Err())

	waitDone(t, src.Seek(3))
	assert.ErrorIs(t, src.Err(), errDecode)
	assert.Equal(t, 1.0, src.Position())
	_, err := src.Frame()
	assert.ErrorIs(t, err, errDecode)

	waitDone(t, src.Seek(1.5))
	assert.NoError(t, src.Err(), "a later successful seek clears the error")
	assert.Equal(t, 1.5, src.Position())
}
