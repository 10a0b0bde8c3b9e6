package timeline

import (
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
)

// Palette is the fixed per-class marker colour table.
var Palette = [...]string{
	"#FF3838", "#FF9D97", "#FF701F", "#FFB21D", "#CFD231",
	"#48F90A", "#92CC17", "#3DDB86", "#1A9334", "#00D4BB",
	"#2C99A8", "#00C2FF", "#344593", "#6473FF", "#0018EC",
	"#8438FF", "#520085", "#CB38FF", "#FF95C8", "#FF37C7",
}

// DefaultLabels is the label table of the single-class model.
var DefaultLabels = []string{"object"}

// Color returns the palette colour of a class.
func Color(class int) string {
	if class < 0 {
		class = -class
	}
	return Palette[class%len(Palette)]
}

// Label returns the display label of a class.
func Label(labels []string, class int) string {
	if class >= 0 && class < len(labels) {
		return labels[class]
	}
	return fmt.Sprintf("class %d", class)
}

// Marker is one drawable detection.
type Marker struct {
	ID       int         `json:"id"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	DisplayX float64     `json:"display_x"`
	DisplayY float64     `json:"display_y"`
	Class    int         `json:"class"`
	Label    string      `json:"label"`
	Score    float32     `json:"score"`
	Caption  string      `json:"caption"`
	Color    string      `json:"color"`
	Box      *detect.Box `json:"box,omitempty"`
}

// Markers converts a detection set into markers. Boxes are attached only when
// drawBoxes is set.
func Markers(set []detect.Detection, labels []string, drawBoxes bool) []Marker {
	out := make([]Marker, 0, len(set))
	for _, d := range set {
		label := Label(labels, d.ClassIndex)
		m := Marker{
			ID:       d.ID,
			X:        d.CenterX,
			Y:        d.CenterY,
			DisplayX: d.DisplayX,
			DisplayY: d.DisplayY,
			Class:    d.ClassIndex,
			Label:    label,
			Score:    d.Score,
			Caption:  fmt.Sprintf("%s %.1f%%", label, d.Score*100),
			Color:    Color(d.ClassIndex),
		}
		if drawBoxes {
			box := d.Box
			m.Box = &box
		}
		out = append(out, m)
	}
	return out
}

// TrailPoint is one point of the cumulative replay trail.
type TrailPoint struct {
	Time    float64 `json:"time"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Color   string  `json:"color"`
	Tracked bool    `json:"tracked"`
}

// Scene is the replay view at one point in time.
type Scene struct {
	Time       float64      `json:"time"`
	FrameIndex int          `json:"frame_index"`
	FrameTime  float64      `json:"frame_time"`
	Trail      []TrailPoint `json:"trail"`
	Markers    []Marker     `json:"markers"`
}

// BuildScene folds the trail over every frame at or before t and overlays the
// markers of the latest frame not after t, or of the first frame when t
// precedes the run. Frames with a track point contribute that point; frames
// without one contribute every detection centre.
func BuildScene(frames []FrameResult, t float64, labels []string, drawBoxes bool) Scene {
	scene := Scene{
		Time:       t,
		FrameIndex: -1,
		Trail:      []TrailPoint{},
		Markers:    []Marker{},
	}

	for _, fr := range frames[:upperBound(frames, t)] {
		if fr.TrackPoint != nil {
			scene.Trail = append(scene.Trail, TrailPoint{
				Time:    fr.Time,
				X:       fr.TrackPoint.X,
				Y:       fr.TrackPoint.Y,
				Color:   Color(fr.TrackPoint.Class),
				Tracked: true,
			})
			continue
		}
		for _, d := range fr.Detections {
			scene.Trail = append(scene.Trail, TrailPoint{
				Time:  fr.Time,
				X:     d.CenterX,
				Y:     d.CenterY,
				Color: Color(d.ClassIndex),
			})
		}
	}

	fr, ok := atOrBefore(frames, t)
	if !ok && len(frames) > 0 {
		fr, ok = frames[0], true
	}
	if ok {
		scene.FrameIndex = fr.Index
		scene.FrameTime = fr.Time
		scene.Markers = Markers(fr.Detections, labels, drawBoxes)
	}
	return scene
}

// Scene builds the replay view from the frames appended so far.
func (c *Cache) Scene(t float64, labels []string, drawBoxes bool) Scene {
	return BuildScene(c.Snapshot(), t, labels, drawBoxes)
}
