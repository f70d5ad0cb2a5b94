package media

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
)

func TestStrip_jpegDropsExif(t *testing.T) {
	in := withExif(jpegBytes(t, 40, 30))
	if !bytes.Contains(in, []byte("Exif\x00\x00")) {
		t.Fatal("test input has no exif segment")
	}

	out, err := Strip(in, ".jpg")
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}

	if bytes.Contains(out, []byte("Exif\x00\x00")) {
		t.Error("Strip() output still has an Exif segment")
	}
	if _, err := exif.Decode(bytes.NewReader(out)); err == nil {
		t.Error("exif.Decode() found exif data in stripped output")
	}
	for _, marker := range []string{"http://ns.adobe.com/xap/1.0/", "Photoshop 3.0"} {
		if bytes.Contains(out, []byte(marker)) {
			t.Errorf("Strip() output contains %q", marker)
		}
	}
}

func TestStrip_pngDropsTextChunks(t *testing.T) {
	in := withTextChunk(pngBytes(t, 20, 20), "Comment", "secret location")
	if _, err := png.Decode(bytes.NewReader(in)); err != nil {
		t.Fatalf("test input is not a valid png: %v", err)
	}

	out, err := Strip(in, ".PNG")
	if err != nil {
		t.Fatalf("Strip() error = %v", err)
	}

	for _, chunk := range []string{"tEXt", "iTXt", "zTXt", "eXIf"} {
		if bytes.Contains(out, []byte(chunk)) {
			t.Errorf("Strip() output contains a %s chunk", chunk)
		}
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("Strip() output is not a valid png: %v", err)
	}
}

func TestStrip_unsupported(t *testing.T) {
	if _, err := Strip(jpegBytes(t, 4, 4), ".tiff"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Strip() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDefaultMetadata(t *testing.T) {
	m := DefaultMetadata(time.Date(2025, time.February, 7, 8, 9, 10, 0, time.UTC))

	if m.Description != "Processed by ImageFlow on 2025-02-07 08:09:10" {
		t.Errorf("Description = %q", m.Description)
	}
	if m.Copyright != "© 2025 ImageFlow" {
		t.Errorf("Copyright = %q", m.Copyright)
	}
	if m.Title != "ImageFlow Processed Image" || m.Author != "ImageFlow" || m.Keywords != "ImageFlow" {
		t.Errorf("DefaultMetadata() = %+v", m)
	}
	if !strings.HasPrefix(m.Software, "ImageFlow (https://") {
		t.Errorf("Software = %q", m.Software)
	}
}

// fakeWriter appends a marker to the file so callers can see it was used.
type fakeWriter struct {
	calls int
	path  string
	ext   string
	err   error
}

func (f *fakeWriter) WriteMetadata(_ context.Context, path string, m Metadata) error {
	f.calls++
	f.path = path
	f.ext = filepath.Ext(path)
	if f.err != nil {
		return f.err
	}

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.WriteString(m.Author)
	return err
}

func TestNormalizer_ReEmbed(t *testing.T) {
	w := &fakeWriter{}
	n := NewNormalizer(w, zap.NewNop())

	out, err := n.ReEmbed(context.Background(), jpegBytes(t, 16, 16), ".JPG")
	if err != nil {
		t.Fatalf("ReEmbed() error = %v", err)
	}

	if w.calls != 1 {
		t.Fatalf("writer called %d times, want 1", w.calls)
	}
	if w.ext != ".jpg" {
		t.Errorf("temp file extension = %q, want .jpg", w.ext)
	}
	if !strings.HasPrefix(filepath.Base(w.path), "imageflow_temp_") {
		t.Errorf("temp file = %q, want imageflow_temp_ prefix", w.path)
	}
	if !bytes.HasSuffix(out, []byte("ImageFlow")) {
		t.Error("ReEmbed() did not return the written file")
	}
	if _, err := os.Stat(w.path); !os.IsNotExist(err) {
		t.Errorf("temp file still exists: %v", err)
	}
}

func TestNormalizer_ReEmbed_writerError(t *testing.T) {
	w := &fakeWriter{err: errors.New("exiftool died")}
	n := NewNormalizer(w, zap.NewNop())

	if _, err := n.ReEmbed(context.Background(), pngBytes(t, 8, 8), ".png"); err == nil {
		t.Fatal("ReEmbed() expected error")
	}
	if _, err := os.Stat(w.path); !os.IsNotExist(err) {
		t.Errorf("temp file still exists after failure: %v", err)
	}
}

func TestNormalizer_ReEmbed_gifSkipsWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, solidImage(8, 8, color.White), imaging.GIF, QualityStandard); err != nil {
		t.Fatal(err)
	}

	w := &fakeWriter{}
	out, err := NewNormalizer(w, zap.NewNop()).ReEmbed(context.Background(), buf.Bytes(), ".gif")
	if err != nil {
		t.Fatalf("ReEmbed() error = %v", err)
	}
	if w.calls != 0 {
		t.Errorf("writer called %d times for gif, want 0", w.calls)
	}
	if !bytes.HasPrefix(out, []byte("GIF8")) {
		t.Error("ReEmbed() output is not a gif")
	}
}

func TestExifTool_roundTrip(t *testing.T) {
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool binary not available")
	}

	et := NewExifTool("")
	defer et.Close()

	n := NewNormalizer(et, zap.NewNop())
	out, err := n.ReEmbed(context.Background(), jpegBytes(t, 16, 16), ".jpg")
	if err != nil {
		t.Fatalf("ReEmbed() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "out.jpg")
	if err := os.WriteFile(path, out, 0644); err != nil {
		t.Fatal(err)
	}

	tags, err := et.ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	want := map[string]string{
		"Artist":   "ImageFlow",
		"Software": "ImageFlow (https://github.com/hosseinskia/imageflow_nodejs)",
		"Title":    "ImageFlow Processed Image",
	}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}
	if !strings.HasPrefix(tags["Copyright"], "© ") {
		t.Errorf("tag Copyright = %q", tags["Copyright"])
	}
}
