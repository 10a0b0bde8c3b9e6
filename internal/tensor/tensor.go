// Package tensor provides the owned float32 buffers exchanged with the model
// collaborator and the per-frame arena that releases them.
package tensor

import (
	"fmt"
	"sync"
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32

	released bool
	pool     *sync.Pool
}

// New allocates a zeroed tensor outside any arena.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, Size(shape)),
	}
}

// FromData wraps data without copying. The length must match the shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if Size(shape) != len(data) {
		return nil, fmt.Errorf("tensor data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Size returns the element count of a shape.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns dimension i, or 0 when i is out of range.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// Released reports whether the buffer was returned to its arena.
func (t *Tensor) Released() bool {
	return t.released
}

// SqueezeBatch returns a view without the leading batch dimension of size 1.
// The view shares Data with t.
func (t *Tensor) SqueezeBatch() (*Tensor, error) {
	if t.Rank() < 1 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("cannot squeeze batch dimension of shape %v", t.Shape)
	}
	return &Tensor{Shape: append([]int(nil), t.Shape[1:]...), Data: t.Data}, nil
}

// Release returns the buffer to its arena pool. Safe to call twice.
func (t *Tensor) Release() {
	if t == nil || t.released {
		return
	}
	t.released = true
	if t.pool != nil {
		buf := t.Data[:0]
		t.pool.Put(&buf)
	}
	t.Data = nil
}
