package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/ericpauley/go-quantize/quantize"
)

// ErrUnsupportedFormat is returned for extensions the codecs can't handle.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatFor maps a file extension (with or without the dot) to a codec.
func FormatFor(ext string) (imaging.Format, error) {
	f, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return -1, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	switch f {
	case imaging.JPEG, imaging.PNG, imaging.GIF:
		return f, nil
	default:
		return -1, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Decode reads an image and applies its EXIF orientation, so the pixels
// are upright once the orientation tag is gone.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Quality selects encoder settings.
type Quality int

const (
	// QualityStandard is used for stored originals.
	QualityStandard Quality = iota
	// QualityMax is used for downloads.
	QualityMax
)

func (q Quality) jpeg() int {
	if q == QualityMax {
		return 100
	}
	return 95
}

// Encode writes img in format. None of the encoders emit metadata segments.
func Encode(w io.Writer, img image.Image, format imaging.Format, q Quality) error {
	var opts []imaging.EncodeOption
	switch format {
	case imaging.JPEG:
		opts = append(opts, imaging.JPEGQuality(q.jpeg()))
	case imaging.PNG:
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	case imaging.GIF:
		opts = append(opts,
			imaging.GIFQuantizer(transparentQuantizer{quantize.MedianCutQuantizer{}}),
			imaging.GIFDrawer(gifDrawer{base: draw.FloydSteinberg}),
		)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := imaging.Encode(w, img, format, opts...); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// Reencode decodes data and encodes it again in the format of ext.
func Reencode(data []byte, ext string, q Quality) ([]byte, error) {
	format, err := FormatFor(ext)
	if err != nil {
		return nil, err
	}

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, format, q); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var transparent = color.RGBA{0, 0, 0, 0}

// transparentQuantizer makes sure the palette carries a fully transparent
// entry when the image has transparent pixels.
type transparentQuantizer struct {
	quantize.MedianCutQuantizer
}

func (q transparentQuantizer) Quantize(p color.Palette, m image.Image) color.Palette {
	palette := q.MedianCutQuantizer.Quantize(p, m)
	if !hasTransparency(m) {
		return palette
	}

	for _, c := range palette {
		if _, _, _, a := c.RGBA(); a == 0 {
			return palette
		}
	}
	if len(palette) < 256 {
		return append(palette, transparent)
	}
	palette[len(palette)-1] = transparent
	return palette
}

func hasTransparency(m image.Image) bool {
	if o, ok := m.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// gifDrawer dithers with the base drawer but keeps fully transparent source
// pixels transparent instead of diffusing them.
type gifDrawer struct {
	base draw.Drawer
}

func (d gifDrawer) Draw(dst draw.Image, r image.Rectangle, src image.Image, sp image.Point) {
	d.base.Draw(dst, r, src, sp)

	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sx, sy := sp.X+x-r.Min.X, sp.Y+y-r.Min.Y
			if _, _, _, a := src.At(sx, sy).RGBA(); a == 0 {
				dst.Set(x, y, transparent)
			}
		}
	}
}
