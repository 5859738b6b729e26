// Package compress shrinks uploaded photos before they are sent for
// stylization. Decode failures pass the original bytes through unchanged.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 2048
	DefaultQuality   = 80
	DefaultMaxPixels = 40_000_000
)

var (
	ErrEmptyInput    = errors.New("empty image input")
	ErrImageTooLarge = errors.New("image dimensions are too large")
)

type Options struct {
	MaxWidth int
	Quality  int

	// MaxPixels caps the declared width*height of the source.
	MaxPixels int
}

func (o Options) normalized() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	return o
}

type Result struct {
	Data   []byte
	Format string
	Width  int
	Height int

	// Resized is false when the source was already within MaxWidth.
	Resized bool
}

// Encoder re-encodes one image. The default build uses imaging; the govips
// build tag swaps in libvips.
type Encoder interface {
	Encode(ctx context.Context, input []byte, opts Options) (Result, error)
}

func NewEncoder() (Encoder, error) {
	return newEncoder()
}

// Image downscales input to at most opts.MaxWidth (never upscaling) and
// re-encodes it as JPEG at opts.Quality.
func Image(ctx context.Context, enc Encoder, input []byte, opts Options) (Result, error) {
	if len(input) == 0 {
		return Result{}, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	opts = opts.normalized()
	// Formats the standard decoders don't know are left to the encoder.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(input)); err == nil && cfg.Height > 0 && cfg.Width > opts.MaxPixels/cfg.Height {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	res, err := enc.Encode(ctx, input, opts)
	if err != nil {
		return Result{}, fmt.Errorf("compress image: %w", err)
	}
	return res, nil
}

// Compress is the pass-through form of Image: any failure returns data as is.
func Compress(data []byte, maxWidth, quality int) []byte {
	enc, err := newEncoder()
	if err != nil {
		return data
	}
	res, err := Image(context.Background(), enc, data, Options{MaxWidth: maxWidth, Quality: quality})
	if err != nil {
		return data
	}
	return res.Data
}

func ContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// targetSize keeps the aspect ratio and never grows the image.
func targetSize(w, h, maxWidth int) (int, int, bool) {
	if w <= maxWidth || w <= 0 {
		return w, h, false
	}
	nh := int(float64(h)*float64(maxWidth)/float64(w) + 0.5)
	return maxWidth, max(1, nh), true
}
