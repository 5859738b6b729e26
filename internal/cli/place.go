package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dunamismax/printstudio/internal/placement"
	"github.com/spf13/cobra"
)

func newPlaceCmd(root *Root) *cobra.Command {
	var (
		templatePath string
		canvas       string
		drags        []string
		zooms        []string
		previewPath  string
		exportPath   string
		clip         string
	)

	cmd := &cobra.Command{
		Use:   "place <mockup> <photo>",
		Short: "Place a photo on a product mockup and render the preview or print file",
		Long: `Computes the initial placement of the photo inside the mockup's printable
region, applies any drags and wheel zooms in order (drags first), then prints the
resulting state as JSON and optionally writes the preview and the exported print area.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			width, height, err := parseSize(canvas)
			if err != nil {
				return err
			}
			mode, err := placement.ParseClipMode(clip)
			if err != nil {
				return err
			}

			mockup, err := decodeImageFile(args[0])
			if err != nil {
				return err
			}
			photo, err := decodeImageFile(args[1])
			if err != nil {
				return err
			}

			var tpl placement.Template
			if templatePath != "" {
				raw, err := os.ReadFile(templatePath)
				if err != nil {
					return err
				}
				if tpl, err = placement.ParseTemplate(raw); err != nil {
					return err
				}
				if err := tpl.Validate(placement.SizeOf(mockup)); err != nil {
					root.logger.Warn().Err(err).Msg("template invalid, using free placement")
					tpl = placement.Template{}
				}
			}

			editor := placement.NewEditor(width, height)
			editor.SetProduct(mockup, tpl)
			editor.SetPhoto(photo)

			for _, d := range drags {
				delta, err := parsePoint(d)
				if err != nil {
					return fmt.Errorf("--drag: %w", err)
				}
				editor.PointerDown(placement.Point{})
				editor.PointerMove(delta)
				editor.PointerUp()
			}
			for _, z := range zooms {
				delta, cursor, err := parseZoom(z)
				if err != nil {
					return fmt.Errorf("--zoom: %w", err)
				}
				editor.Wheel(delta, cursor)
			}

			if previewPath != "" {
				img, _ := editor.Render()
				data, err := placement.EncodePNG(img)
				if err != nil {
					return err
				}
				if err := writeFile(previewPath, data); err != nil {
					return err
				}
			}

			summary := map[string]any{"state": editor.State()}
			if region, ok := editor.PrintableRegion(); ok {
				summary["printable_region"] = region
			}
			if exportPath != "" {
				data, box, err := editor.ExportPNG(mode)
				if err != nil {
					return err
				}
				if err := writeFile(exportPath, data); err != nil {
					return err
				}
				summary["export_bounds"] = map[string]int{"x": box.Min.X, "y": box.Min.Y, "width": box.Dx(), "height": box.Dy()}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVarP(&templatePath, "template", "t", "", "printable template JSON in mockup pixels")
	cmd.Flags().StringVar(&canvas, "canvas", "800x800", "canvas size WIDTHxHEIGHT")
	cmd.Flags().StringArrayVar(&drags, "drag", nil, "translate by DX,DY (repeatable)")
	cmd.Flags().StringArrayVar(&zooms, "zoom", nil, "wheel DELTA@X,Y at the cursor (repeatable)")
	cmd.Flags().StringVar(&previewPath, "preview", "", "write the rendered preview PNG here")
	cmd.Flags().StringVarP(&exportPath, "export", "o", "", "write the exported print area PNG here")
	cmd.Flags().StringVar(&clip, "clip", string(placement.ClipBoundingBox), "export clip mode (bbox|polygon)")
	return cmd
}

// parseZoom reads "DELTA@X,Y".
func parseZoom(s string) (float64, placement.Point, error) {
	d, at, ok := strings.Cut(s, "@")
	if !ok {
		return 0, placement.Point{}, fmt.Errorf("zoom %q: expected DELTA@X,Y", s)
	}
	delta, err := strconv.ParseFloat(strings.TrimSpace(d), 64)
	if err != nil {
		return 0, placement.Point{}, fmt.Errorf("zoom %q: %w", s, err)
	}
	cursor, err := parsePoint(at)
	if err != nil {
		return 0, placement.Point{}, err
	}
	return delta, cursor, nil
}
