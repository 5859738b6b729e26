package placement

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image/png"
	"testing"
)

// pngHeader returns a PNG signature and IHDR chunk declaring w x h pixels with
// no image data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 2, 0, 0, 0)
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeaderBeforeDecoding(t *testing.T) {
	_, err := Decode(pngHeader(20000, 20000), MaxPixels)
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestDecodeAcceptsImagesWithinBudget(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(40, 30, red)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	img, err := Decode(buf.Bytes(), 40*30)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Fatalf("unexpected bounds %v", b)
	}

	if _, err := Decode(buf.Bytes(), 40*30-1); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected budget to be exclusive of larger images, got %v", err)
	}
}

func TestDecodeRejectsUnknownFormats(t *testing.T) {
	_, err := Decode([]byte("not an image"), MaxPixels)
	if err == nil || errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected a format error, got %v", err)
	}
}
