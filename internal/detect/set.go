package detect

import "github.com/vzahanych/view-guard-meta/edge/tracker/internal/preprocess"

// BuildSet gathers the selected candidates, in the given order, into the
// frame's detection set and projects their centres to source pixels.
func BuildSet(c Candidates, selected []int, proj preprocess.Projection) []Detection {
	out := make([]Detection, 0, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= c.Len() {
			continue
		}
		box := c.Boxes[idx]
		nx, ny := box.Center()
		cx, cy := proj.ToSource(nx, ny)
		dx, dy := proj.ToDisplay(nx, ny)
		out = append(out, Detection{
			ID:         len(out),
			Box:        box,
			Score:      c.Scores[idx],
			ClassIndex: c.Classes[idx],
			CenterX:    cx,
			CenterY:    cy,
			DisplayX:   dx,
			DisplayY:   dy,
		})
	}
	return out
}

// FindByID returns the detection with the given id.
func FindByID(set []Detection, id int) (Detection, bool) {
	for _, d := range set {
		if d.ID == id {
			return d, true
		}
	}
	return Detection{}, false
}
