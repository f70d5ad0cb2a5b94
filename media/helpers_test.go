package media

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255}), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(w, h, color.NRGBA{R: 10, G: 200, B: 90, A: 255})); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// withExif inserts a minimal APP1 Exif segment (a single Software tag)
// right after the SOI marker.
func withExif(jpg []byte) []byte {
	tiff := []byte{
		'I', 'I', 0x2a, 0x00, // little endian TIFF header
		0x08, 0x00, 0x00, 0x00, // IFD0 offset
		0x01, 0x00, // one entry
		0x31, 0x01, 0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 'a', 'b', 'c', 0x00, // Software = "abc"
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)

	seg := []byte{0xff, 0xe1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

// withTextChunk inserts a tEXt chunk before IEND.
func withTextChunk(p []byte, keyword, text string) []byte {
	data := append([]byte(keyword), 0)
	data = append(data, text...)

	chunk := make([]byte, 4)
	binary.BigEndian.PutUint32(chunk, uint32(len(data)))
	typed := append([]byte("tEXt"), data...)
	chunk = append(chunk, typed...)
	crc := make([]byte, 4)
	binary.BigEndian.PutUint32(crc, crc32.ChecksumIEEE(typed))
	chunk = append(chunk, crc...)

	iend := len(p) - 12
	out := append([]byte{}, p[:iend]...)
	out = append(out, chunk...)
	return append(out, p[iend:]...)
}
