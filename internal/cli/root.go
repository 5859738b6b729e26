// Package cli implements studioctl, the operator tool for trying placements,
// compression and stylization against local files.
package cli

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/placement"
	"github.com/dunamismax/printstudio/internal/retry"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Root carries what every subcommand shares.
type Root struct {
	cfg        config.Config
	logger     zerolog.Logger
	resolver   secrets.Resolver
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRoot(cfg config.Config, logger zerolog.Logger, resolver secrets.Resolver) *Root {
	return &Root{
		cfg:        cfg,
		logger:     logger,
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		sleep:      retry.Sleep,
	}
}

func NewRootCmd(root *Root) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "studioctl",
		Short:         "studioctl drives printstudio's placement, compression and stylization offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				root.logger = root.logger.Level(zerolog.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(newPlaceCmd(root))
	rootCmd.AddCommand(newCompressCmd(root))
	rootCmd.AddCommand(newStylizeCmd(root))
	rootCmd.AddCommand(newTemplateCmd(root))
	return rootCmd
}

func (r *Root) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.cfg.Retry.MaxAttempts,
		BaseDelay:   r.cfg.Retry.BaseDelay,
		Multiplier:  r.cfg.Retry.Multiplier,
		Sleep:       r.sleep,
	}
}

func decodeImageFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := placement.Decode(data, placement.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// parseSize reads "800x600".
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: expected WIDTHxHEIGHT", s)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("size %q: expected positive integers", s)
	}
	return width, height, nil
}

// parsePoint reads "x,y".
func parsePoint(s string) (placement.Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return placement.Point{}, fmt.Errorf("point %q: expected X,Y", s)
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err1 != nil || err2 != nil {
		return placement.Point{}, fmt.Errorf("point %q: expected numbers", s)
	}
	return placement.Point{X: x, Y: y}, nil
}
