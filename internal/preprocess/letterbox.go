// Package preprocess turns a source frame into the square, model-sized input
// tensor and keeps the ratios needed to map detections back to the frame.
package preprocess

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
)

// Channels is the number of colour channels fed to the model.
const Channels = 3

// Input is a preprocessed frame ready for inference.
type Input struct {
	// Tensor has shape (1, ModelHeight, ModelWidth, 3) with values in [0,1].
	Tensor *tensor.Tensor

	XRatio  float64 // MaxSide / source width
	YRatio  float64 // MaxSide / source height
	MaxSide int

	SourceWidth  int
	SourceHeight int
	ModelWidth   int
	ModelHeight  int
}

// Letterbox pads img on the bottom and right to a square of side
// max(width, height), resizes it bilinearly to the model size and normalizes
// it. The tensor is allocated from arena when one is given.
func Letterbox(img image.Image, modelWidth, modelHeight int, arena *tensor.Arena) (*Input, error) {
	if img == nil {
		return nil, fmt.Errorf("nil frame image")
	}
	if modelWidth <= 0 || modelHeight <= 0 {
		return nil, fmt.Errorf("invalid model input size %dx%d", modelWidth, modelHeight)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty frame %dx%d", w, h)
	}

	maxSide := max(w, h)

	// Unfilled canvas pixels stay zero, which is the padding value.
	canvas := image.NewRGBA(image.Rect(0, 0, maxSide, maxSide))
	draw.Draw(canvas, image.Rect(0, 0, w, h), img, bounds.Min, draw.Src)

	resized := image.NewRGBA(image.Rect(0, 0, modelWidth, modelHeight))
	xdraw.BiLinear.Scale(resized, resized.Bounds(), canvas, canvas.Bounds(), xdraw.Src, nil)

	var t *tensor.Tensor
	if arena != nil {
		t = arena.New(1, modelHeight, modelWidth, Channels)
	} else {
		t = tensor.New(1, modelHeight, modelWidth, Channels)
	}
	fill(t.Data, resized)

	return &Input{
		Tensor:       t,
		XRatio:       float64(maxSide) / float64(w),
		YRatio:       float64(maxSide) / float64(h),
		MaxSide:      maxSide,
		SourceWidth:  w,
		SourceHeight: h,
		ModelWidth:   modelWidth,
		ModelHeight:  modelHeight,
	}, nil
}

// fill writes RGB values of img scaled to [0,1] in HWC order.
func fill(dst []float32, img *image.RGBA) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			dst[i] = float32(p[0]) / 255.0
			dst[i+1] = float32(p[1]) / 255.0
			dst[i+2] = float32(p[2]) / 255.0
			i += Channels
		}
	}
}
