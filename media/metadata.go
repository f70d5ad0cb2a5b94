package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	metaTitle    = "ImageFlow Processed Image"
	metaAuthor   = "ImageFlow"
	metaKeywords = "ImageFlow"
	metaSoftware = "ImageFlow (https://github.com/hosseinskia/imageflow_nodejs)"

	tempPattern = "imageflow_temp_*"
)

// Metadata is the fixed block written into downloaded images.
type Metadata struct {
	Title       string
	Author      string
	Description string
	Copyright   string
	Keywords    string
	Software    string
}

// DefaultMetadata returns the block stamped at now.
func DefaultMetadata(now time.Time) Metadata {
	return Metadata{
		Title:       metaTitle,
		Author:      metaAuthor,
		Description: "Processed by ImageFlow on " + now.Format("2006-01-02 15:04:05"),
		Copyright:   fmt.Sprintf("© %d ImageFlow", now.Year()),
		Keywords:    metaKeywords,
		Software:    metaSoftware,
	}
}

// tags maps m onto EXIF and XMP tag names.
func (m Metadata) tags() map[string]string {
	return map[string]string{
		"EXIF:Artist":           m.Author,
		"EXIF:ImageDescription": m.Description,
		"EXIF:Copyright":        m.Copyright,
		"EXIF:Software":         m.Software,
		"EXIF:XPTitle":          m.Title,
		"EXIF:XPKeywords":       m.Keywords,
		"XMP-dc:Title":          m.Title,
		"XMP-dc:Creator":        m.Author,
		"XMP-dc:Description":    m.Description,
		"XMP-dc:Rights":         m.Copyright,
		"XMP-dc:Subject":        m.Keywords,
		"XMP-xmp:CreatorTool":   m.Software,
	}
}

// MetadataWriter writes a metadata block into an image file in place.
type MetadataWriter interface {
	WriteMetadata(ctx context.Context, path string, m Metadata) error
}

// Strip returns data re-encoded in the format of ext with every metadata
// segment dropped.
func Strip(data []byte, ext string) ([]byte, error) {
	out, err := Reencode(data, ext, QualityStandard)
	if err != nil {
		return nil, fmt.Errorf("strip metadata: %w", err)
	}
	return out, nil
}

// Normalizer prepares originals for download.
type Normalizer struct {
	writer MetadataWriter
	logger *zap.Logger
	now    func() time.Time
}

func NewNormalizer(writer MetadataWriter, logger *zap.Logger) *Normalizer {
	return &Normalizer{writer: writer, logger: logger, now: time.Now}
}

// ReEmbed re-encodes data at maximum quality and writes the fixed metadata
// block into it. The scratch file is removed on every path.
func (n *Normalizer) ReEmbed(ctx context.Context, data []byte, ext string) ([]byte, error) {
	format, err := FormatFor(ext)
	if err != nil {
		return nil, err
	}

	out, err := Reencode(data, ext, QualityMax)
	if err != nil {
		return nil, err
	}

	if format == imaging.GIF {
		n.logger.Warn("gif has no metadata container, serving re-encoded image only")
		return out, nil
	}

	tmp, err := os.CreateTemp("", tempPattern+strings.ToLower(ext))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if err := n.writer.WriteMetadata(ctx, tmpPath, DefaultMetadata(n.now())); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	result, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read back temp file: %w", err)
	}
	return result, nil
}

// ExifTool writes metadata through a single long-running exiftool process
// started on first use.
type ExifTool struct {
	mu      sync.Mutex
	binPath string
	et      *exiftool.Exiftool
}

// NewExifTool returns a writer using the exiftool binary at binPath, or the
// one on PATH when binPath is empty.
func NewExifTool(binPath string) *ExifTool {
	return &ExifTool{binPath: binPath}
}

func (e *ExifTool) process() (*exiftool.Exiftool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.et != nil {
		return e.et, nil
	}

	var opts []func(*exiftool.Exiftool) error
	if e.binPath != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(e.binPath))
	}

	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	e.et = et
	return et, nil
}

func (e *ExifTool) WriteMetadata(ctx context.Context, path string, m Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	et, err := e.process()
	if err != nil {
		return err
	}

	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	for k, v := range m.tags() {
		fm.SetString(k, v)
	}

	fms := []exiftool.FileMetadata{fm}
	et.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("exiftool: %w", fms[0].Err)
	}
	return nil
}

// ReadMetadata returns the tags exiftool reports for path.
func (e *ExifTool) ReadMetadata(path string) (map[string]string, error) {
	et, err := e.process()
	if err != nil {
		return nil, err
	}

	fms := et.ExtractMetadata(path)
	if len(fms) != 1 {
		return nil, errors.New("exiftool returned no result")
	}
	if fms[0].Err != nil {
		return nil, fmt.Errorf("exiftool: %w", fms[0].Err)
	}

	out := make(map[string]string, len(fms[0].Fields))
	for k := range fms[0].Fields {
		if v, err := fms[0].GetString(k); err == nil {
			out[k] = v
		}
	}
	return out, nil
}

func (e *ExifTool) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.et == nil {
		return nil
	}
	err := e.et.Close()
	e.et = nil
	return err
}
