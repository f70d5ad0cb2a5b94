package media

import (
	"bytes"
	_ "embed"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// WatermarkRatio is the share of the preview's width and height the
// watermark may occupy.
const WatermarkRatio = 0.4

//go:embed assets/watermark.png
var defaultWatermark []byte

// LoadWatermark opens the watermark at path, or the built-in one when path
// is empty.
func LoadWatermark(path string) (image.Image, error) {
	if path == "" {
		img, err := imaging.Decode(bytes.NewReader(defaultWatermark))
		if err != nil {
			return nil, fmt.Errorf("decode built-in watermark: %w", err)
		}
		return img, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watermark %s: %w", path, err)
	}
	return img, nil
}

// watermarkSize returns the size of wm scaled to fit inside
// WatermarkRatio of a w×h canvas, keeping its aspect ratio. The watermark is
// scaled up as well as down.
func watermarkSize(wm image.Rectangle, w, h int) (int, int) {
	maxW := int(math.Round(WatermarkRatio * float64(w)))
	maxH := int(math.Round(WatermarkRatio * float64(h)))
	if wm.Dx() == 0 || wm.Dy() == 0 || maxW == 0 || maxH == 0 {
		return 0, 0
	}

	scale := float64(maxW) / float64(wm.Dx())
	if float64(wm.Dy())*scale > float64(maxH) {
		scale = float64(maxH) / float64(wm.Dy())
	}

	sw := int(math.Round(float64(wm.Dx()) * scale))
	sh := int(math.Round(float64(wm.Dy()) * scale))
	return max(sw, 1), max(sh, 1)
}

// applyWatermark composites wm over the bottom-left corner of img.
func applyWatermark(img, wm image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := watermarkSize(wm.Bounds(), b.Dx(), b.Dy())
	if w == 0 || h == 0 {
		return imaging.Clone(img)
	}

	scaled := imaging.Resize(wm, w, h, imaging.Lanczos)
	pos := image.Pt(b.Min.X, b.Max.Y-h)
	return imaging.Overlay(img, scaled, pos, 1.0)
}
