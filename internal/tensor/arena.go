package tensor

import "sync"

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]float32, 0)
		return &buf
	},
}

// Arena scopes every tensor acquired while processing one frame. Release
// frees them all; the driver defers it at the end of each iteration.
type Arena struct {
	mu      sync.Mutex
	tensors []*Tensor
	closed  bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// New allocates a zeroed tensor owned by the arena.
func (a *Arena) New(shape ...int) *Tensor {
	n := Size(shape)
	bufPtr := bufferPool.Get().(*[]float32)
	buf := *bufPtr
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
		clear(buf)
	}

	t := &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  buf,
		pool:  &bufferPool,
	}
	a.Track(t)
	return t
}

// Track hands ownership of an externally created tensor to the arena.
func (a *Arena) Track(t *Tensor) {
	if t == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		t.Release()
		return
	}
	a.tensors = append(a.tensors, t)
}

// Len returns the number of live tensors.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tensors)
}

// Release frees every tracked tensor. Tensors tracked afterwards are
// released immediately.
func (a *Arena) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.tensors {
		t.Release()
	}
	a.tensors = nil
	a.closed = true
}
