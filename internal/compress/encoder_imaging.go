//go:build !govips || !cgo

package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func newEncoder() (Encoder, error) {
	return imagingEncoder{}, nil
}

type imagingEncoder struct{}

func (imagingEncoder) Encode(ctx context.Context, input []byte, opts Options) (Result, error) {
	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("decode source image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	b := src.Bounds()
	w, h, resized := targetSize(b.Dx(), b.Dy(), opts.MaxWidth)
	img := src
	if resized {
		img = imaging.Resize(src, w, h, imaging.Lanczos)
	}

	// JPEG has no alpha; transparent areas become white instead of black.
	flat := imaging.New(w, h, color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Result{
		Data:    buf.Bytes(),
		Format:  "jpeg",
		Width:   w,
		Height:  h,
		Resized: resized,
	}, nil
}
