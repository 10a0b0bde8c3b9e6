package preprocess

// Projection maps model-normalized coordinates back to the source frame.
// Padding is bottom/right only, so normalized × MaxSide lands directly in
// source pixels.
type Projection struct {
	XRatio      float64 `json:"x_ratio"`
	YRatio      float64 `json:"y_ratio"`
	MaxSide     int     `json:"max_side"`
	ModelWidth  int     `json:"model_width"`
	ModelHeight int     `json:"model_height"`
}

// Projection returns the mapping for this input.
func (in *Input) Projection() Projection {
	return Projection{
		XRatio:      in.XRatio,
		YRatio:      in.YRatio,
		MaxSide:     in.MaxSide,
		ModelWidth:  in.ModelWidth,
		ModelHeight: in.ModelHeight,
	}
}

// ToSource converts a normalized (x, y) to source-frame pixels.
func (p Projection) ToSource(nx, ny float64) (float64, float64) {
	s := float64(p.MaxSide)
	return nx * s, ny * s
}

// FromSource converts source-frame pixels to normalized model coordinates.
func (p Projection) FromSource(x, y float64) (float64, float64) {
	if p.MaxSide == 0 {
		return 0, 0
	}
	s := float64(p.MaxSide)
	return x / s, y / s
}

// ToDisplay converts a normalized (x, y) to the model-sized display canvas
// where the source frame is stretched to fill the whole surface.
func (p Projection) ToDisplay(nx, ny float64) (float64, float64) {
	return nx * float64(p.ModelWidth) * p.XRatio, ny * float64(p.ModelHeight) * p.YRatio
}
