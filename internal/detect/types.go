// Package detect decodes raw model output into candidate detections and
// builds the per-frame filtered detection set.
package detect

import "errors"

// ErrShapeMismatch is returned when a raw model tensor does not match the
// single-class (1,N,6)/(1,N,1) layout.
var ErrShapeMismatch = errors.New("shape mismatch")

// Raw box row layout produced by the single-class model.
const (
	RowX1 = iota
	RowY1
	RowX2
	RowY2
	RowObjectness
	RowClassScore
	RowWidth
)

// Box is (y1, x1, y2, x2) in model-normalized coordinates.
type Box [4]float32

// Y1 returns the top edge.
func (b Box) Y1() float32 { return b[0] }

// X1 returns the left edge.
func (b Box) X1() float32 { return b[1] }

// Y2 returns the bottom edge.
func (b Box) Y2() float32 { return b[2] }

// X2 returns the right edge.
func (b Box) X2() float32 { return b[3] }

// Center returns the normalized centre (x, y).
func (b Box) Center() (float64, float64) {
	return float64(b[1]+b[3]) / 2, float64(b[0]+b[2]) / 2
}

// Candidates are the decoded parallel arrays before suppression.
type Candidates struct {
	Boxes   []Box
	Scores  []float32
	Classes []int
}

// Len returns the number of candidates.
func (c Candidates) Len() int {
	return len(c.Scores)
}

// Detection is one surviving detection of a frame.
type Detection struct {
	ID         int     `json:"id"` // position in the frame's detection set
	Box        Box     `json:"box"`
	Score      float32 `json:"score"`
	ClassIndex int     `json:"class"`

	// Centre in source-frame pixels.
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`

	// Centre on the model-sized display canvas.
	DisplayX float64 `json:"display_x"`
	DisplayY float64 `json:"display_y"`
}
