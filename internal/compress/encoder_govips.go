//go:build govips && cgo

package compress

import (
	"context"
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 * 1024 * 1024,
			MaxCacheSize:  50,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newEncoder() (Encoder, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return vipsEncoder{}, nil
}

type vipsEncoder struct{}

func (vipsEncoder) Encode(ctx context.Context, input []byte, opts Options) (Result, error) {
	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Result{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return Result{}, fmt.Errorf("auto rotate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	_, _, resized := targetSize(img.Width(), img.Height(), opts.MaxWidth)
	if resized {
		scale := float64(opts.MaxWidth) / float64(img.Width())
		if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
			return Result{}, fmt.Errorf("resize image: %w", err)
		}
	}

	if img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return Result{}, fmt.Errorf("flatten alpha: %w", err)
		}
	}

	params := vips.NewJpegExportParams()
	params.Quality = opts.Quality
	params.StripMetadata = true
	data, _, err := img.ExportJpeg(params)
	if err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}

	return Result{
		Data:    data,
		Format:  "jpeg",
		Width:   img.Width(),
		Height:  img.Height(),
		Resized: resized,
	}, nil
}
