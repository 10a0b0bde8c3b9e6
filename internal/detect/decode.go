package detect

import (
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
)

// BoxUnits says how the model expresses box coordinates.
type BoxUnits string

const (
	UnitsNormalized BoxUnits = "normalized"
	UnitsPixels     BoxUnits = "pixels"
)

// DecodeOptions controls coordinate normalization of the decoder.
type DecodeOptions struct {
	Units       BoxUnits
	ModelWidth  int
	ModelHeight int
}

// Decode squeezes the batch dimension of the box (1,N,6) and score (1,N,1)
// tensors, reorders each row to (y1,x1,y2,x2) and assigns class 0.
func Decode(boxes, scores *tensor.Tensor, opts DecodeOptions) (Candidates, error) {
	if boxes == nil || scores == nil {
		return Candidates{}, fmt.Errorf("%w: missing output tensor", ErrShapeMismatch)
	}
	if boxes.Rank() != 3 || boxes.Dim(0) != 1 || boxes.Dim(2) != RowWidth {
		return Candidates{}, fmt.Errorf("%w: boxes tensor has shape %v, want (1,N,%d)", ErrShapeMismatch, boxes.Shape, RowWidth)
	}
	if scores.Rank() != 3 || scores.Dim(0) != 1 || scores.Dim(2) != 1 {
		return Candidates{}, fmt.Errorf("%w: scores tensor has shape %v, want (1,N,1)", ErrShapeMismatch, scores.Shape)
	}
	n := boxes.Dim(1)
	if scores.Dim(1) != n {
		return Candidates{}, fmt.Errorf("%w: %d boxes but %d scores", ErrShapeMismatch, n, scores.Dim(1))
	}
	if len(boxes.Data) != n*RowWidth || len(scores.Data) != n {
		return Candidates{}, fmt.Errorf("%w: tensor data does not match declared shape", ErrShapeMismatch)
	}

	sx, sy := float32(1), float32(1)
	if opts.Units == UnitsPixels {
		if opts.ModelWidth <= 0 || opts.ModelHeight <= 0 {
			return Candidates{}, fmt.Errorf("pixel box units need the model input size")
		}
		sx, sy = 1/float32(opts.ModelWidth), 1/float32(opts.ModelHeight)
	}

	out := Candidates{
		Boxes:   make([]Box, n),
		Scores:  make([]float32, n),
		Classes: make([]int, n),
	}
	for i := 0; i < n; i++ {
		row := boxes.Data[i*RowWidth : (i+1)*RowWidth]
		out.Boxes[i] = Box{
			row[RowY1] * sy,
			row[RowX1] * sx,
			row[RowY2] * sy,
			row[RowX2] * sx,
		}
		out.Scores[i] = scores.Data[i]
	}
	return out, nil
}
