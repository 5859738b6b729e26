package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/printstudio/internal/compress"
	"github.com/spf13/cobra"
)

func newCompressCmd(root *Root) *cobra.Command {
	var (
		output   string
		maxWidth int
		quality  int
	)

	cmd := &cobra.Command{
		Use:   "compress <input>",
		Short: "Shrink a photo the way uploads are shrunk before stylization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".compressed.jpg"
			}

			enc, err := compress.NewEncoder()
			if err != nil {
				return err
			}
			res, err := compress.Image(cmd.Context(), enc, input, compress.Options{MaxWidth: maxWidth, Quality: quality})
			if err != nil {
				return err
			}
			if err := writeFile(output, res.Data); err != nil {
				return err
			}

			root.logger.Debug().Str("output", output).Bool("resized", res.Resized).Msg("compressed")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d %s, %d -> %d bytes\n",
				output, res.Width, res.Height, res.Format, len(input), len(res.Data))
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <input>.compressed.jpg)")
	cmd.Flags().IntVar(&maxWidth, "max-width", root.cfg.Compress.MaxWidth, "maximum output width in pixels")
	cmd.Flags().IntVarP(&quality, "quality", "q", root.cfg.Compress.Quality, "JPEG quality 1-100")
	return cmd
}
