package detect

import (
	"context"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
)

// Model is the object-detection collaborator. Infer accepts a
// (1, height, width, 3) input and returns the (1,N,6) box tensor and the
// (1,N,1) score tensor, both owned by arena.
type Model interface {
	InputSize() (width, height int)
	Infer(ctx context.Context, input *tensor.Tensor, arena *tensor.Arena) (boxes, scores *tensor.Tensor, err error)
}
