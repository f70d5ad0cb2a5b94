package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/hosseinskia/imageflow/storage"
)

const (
	// DefaultPreviewSize bounds both sides of a preview.
	DefaultPreviewSize = 300
	// PreviewQuality is the JPEG quality of previews.
	PreviewQuality = 80
)

// Generator derives watermarked previews from originals.
type Generator struct {
	size      uint
	watermark image.Image
}

func NewGenerator(size int, watermark image.Image) *Generator {
	if size <= 0 {
		size = DefaultPreviewSize
	}
	return &Generator{size: uint(size), watermark: watermark}
}

// Generate writes the preview of the image at originalPath to previewPath.
// The preview is always JPEG encoded, whatever the extension.
func (g *Generator) Generate(ctx context.Context, originalPath, previewPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(originalPath)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := g.Write(&buf, f); err != nil {
		return err
	}

	if err := storage.WriteFileAtomic(previewPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}

// Write reads an original from r and writes its preview to w.
func (g *Generator) Write(w io.Writer, r io.Reader) error {
	src, err := Decode(r)
	if err != nil {
		return err
	}

	preview := g.Render(src)
	if err := imaging.Encode(w, preview, imaging.JPEG, imaging.JPEGQuality(PreviewQuality)); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

// Render fits src inside the preview bounds without enlarging it and
// stamps the watermark.
func (g *Generator) Render(src image.Image) image.Image {
	thumb := resize.Thumbnail(g.size, g.size, src, resize.Lanczos3)
	if g.watermark == nil {
		return thumb
	}
	return applyWatermark(thumb, g.watermark)
}
