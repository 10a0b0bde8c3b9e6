// Package nms implements greedy non-maximum suppression over
// (y1, x1, y2, x2) boxes.
package nms

import (
	"sort"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
)

// Config holds the suppression limits.
type Config struct {
	MaxOutputSize  int
	IoUThreshold   float32
	ScoreThreshold float32
}

// DefaultConfig returns the limits used by the processing pipeline.
func DefaultConfig() Config {
	return Config{
		MaxOutputSize:  100,
		IoUThreshold:   0.5,
		ScoreThreshold: 0.25,
	}
}

// IoU returns the intersection-over-union of two boxes. Corners may be given
// in either order.
func IoU(a, b detect.Box) float32 {
	ay1, ay2 := minmax(a[0], a[2])
	ax1, ax2 := minmax(a[1], a[3])
	by1, by2 := minmax(b[0], b[2])
	bx1, bx2 := minmax(b[1], b[3])

	areaA := (ay2 - ay1) * (ax2 - ax1)
	areaB := (by2 - by1) * (bx2 - bx1)
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	iy1, ix1 := max(ay1, by1), max(ax1, bx1)
	iy2, ix2 := min(ay2, by2), min(ax2, bx2)
	inter := max(iy2-iy1, 0) * max(ix2-ix1, 0)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func minmax(a, b float32) (float32, float32) {
	if a > b {
		return b, a
	}
	return a, b
}

// Suppress returns the indices of the boxes kept, in selection order.
// Candidates scoring below ScoreThreshold are dropped; a candidate whose IoU
// with an already selected box reaches IoUThreshold is suppressed. Equal
// scores keep their original order. Class is ignored.
func Suppress(boxes []detect.Box, scores []float32, cfg Config) []int {
	n := min(len(boxes), len(scores))
	if n == 0 || cfg.MaxOutputSize <= 0 {
		return []int{}
	}

	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if scores[i] >= cfg.ScoreThreshold {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	selected := make([]int, 0, min(len(order), cfg.MaxOutputSize))
	for _, cand := range order {
		if len(selected) >= cfg.MaxOutputSize {
			break
		}
		keep := true
		for _, s := range selected {
			if IoU(boxes[cand], boxes[s]) >= cfg.IoUThreshold {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, cand)
		}
	}
	return selected
}

// SuppressCandidates runs Suppress over decoded candidates.
func SuppressCandidates(c detect.Candidates, cfg Config) []int {
	return Suppress(c.Boxes, c.Scores, cfg)
}
