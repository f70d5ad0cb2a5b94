package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/disintegration/imaging"
)

func TestFormatFor(t *testing.T) {
	tests := []struct {
		ext     string
		want    imaging.Format
		wantErr bool
	}{
		{ext: ".jpg", want: imaging.JPEG},
		{ext: ".JPEG", want: imaging.JPEG},
		{ext: "png", want: imaging.PNG},
		{ext: ".gif", want: imaging.GIF},
		{ext: ".bmp", wantErr: true},
		{ext: ".webp", wantErr: true},
		{ext: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := FormatFor(tt.ext)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatFor(%q) error = %v, wantErr %v", tt.ext, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("FormatFor(%q) error = %v, want ErrUnsupportedFormat", tt.ext, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("FormatFor(%q) = %v, want %v", tt.ext, got, tt.want)
			}
		})
	}
}

func TestEncode_gifKeepsTransparency(t *testing.T) {
	img := solidImage(32, 32, color.NRGBA{R: 220, G: 30, B: 30, A: 255})
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{})
		}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, imaging.GIF, QualityStandard); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	out, err := gif.Decode(&buf)
	if err != nil {
		t.Fatalf("gif.Decode() error = %v", err)
	}

	if _, _, _, a := out.At(2, 2).RGBA(); a != 0 {
		t.Errorf("transparent pixel alpha = %d, want 0", a)
	}
	if _, _, _, a := out.At(20, 20).RGBA(); a == 0 {
		t.Error("opaque pixel became transparent")
	}
}

func TestReencode_keepsDimensions(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ext  string
	}{
		{name: "jpeg", data: jpegBytes(t, 64, 48), ext: ".jpg"},
		{name: "png", data: pngBytes(t, 64, 48), ext: ".png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reencode(tt.data, tt.ext, QualityMax)
			if err != nil {
				t.Fatalf("Reencode() error = %v", err)
			}
			img, _, err := image.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("decode output: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
				t.Errorf("output size = %dx%d, want 64x48", b.Dx(), b.Dy())
			}
		})
	}
}

func TestReencode_rejectsGarbage(t *testing.T) {
	if _, err := Reencode([]byte("not an image"), ".jpg", QualityStandard); err == nil {
		t.Error("Reencode() expected error for invalid data")
	}
}
