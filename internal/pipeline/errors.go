package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAssociationState is returned when tracking is requested
	// without a seed detection.
	ErrInvalidAssociationState = errors.New("tracking requested without a selected detection")

	// ErrStopped is returned when a run ends because Stop was called or its
	// context was cancelled.
	ErrStopped = errors.New("processing stopped")
)

// FrameError attributes a run abort to the frame time it happened at.
type FrameError struct {
	Time float64
	// LastProcessed is the time of the last frame appended, or -1.
	LastProcessed float64
	Err           error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("processing failed at t=%.3f: %v", e.Time, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
