package nms

import (
	"sort"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
)

// SuppressByClass suppresses within each class bucket independently, for
// multi-class models. The merged result is ordered by score, ties by
// original index, and capped at MaxOutputSize.
func SuppressByClass(c detect.Candidates, cfg Config) []int {
	buckets := make(map[int][]int)
	for i := 0; i < c.Len(); i++ {
		buckets[c.Classes[i]] = append(buckets[c.Classes[i]], i)
	}

	var merged []int
	for _, members := range buckets {
		boxes := make([]detect.Box, len(members))
		scores := make([]float32, len(members))
		for j, idx := range members {
			boxes[j] = c.Boxes[idx]
			scores[j] = c.Scores[idx]
		}
		for _, local := range Suppress(boxes, scores, cfg) {
			merged = append(merged, members[local])
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		si, sj := c.Scores[merged[i]], c.Scores[merged[j]]
		if si != sj {
			return si > sj
		}
		return merged[i] < merged[j]
	})
	if len(merged) > cfg.MaxOutputSize {
		merged = merged[:cfg.MaxOutputSize]
	}
	if merged == nil {
		merged = []int{}
	}
	return merged
}
