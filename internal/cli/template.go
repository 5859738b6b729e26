package cli

import (
	"fmt"
	"os"

	"github.com/dunamismax/printstudio/internal/placement"
	"github.com/spf13/cobra"
)

func newTemplateCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Inspect printable templates",
	}
	cmd.AddCommand(newTemplateCheckCmd(root))
	return cmd
}

func newTemplateCheckCmd(_ *Root) *cobra.Command {
	var (
		mockupPath string
		size       string
	)

	cmd := &cobra.Command{
		Use:   "check <template.json>",
		Short: "Validate a template against its mockup",
		Long: `Checks that the template has four corners with consistent winding inside the
mockup bounds. The mockup size comes from --mockup or --size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tpl, err := placement.ParseTemplate(raw)
			if err != nil {
				return err
			}

			var bounds placement.Size
			switch {
			case mockupPath != "":
				img, err := decodeImageFile(mockupPath)
				if err != nil {
					return err
				}
				bounds = placement.SizeOf(img)
			case size != "":
				w, h, err := parseSize(size)
				if err != nil {
					return err
				}
				bounds = placement.Size{Width: float64(w), Height: float64(h)}
			default:
				return fmt.Errorf("one of --mockup or --size is required")
			}

			if err := tpl.Validate(bounds); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d corners within %gx%g)\n", args[0], len(tpl.Corners), bounds.Width, bounds.Height)
			return err
		},
	}

	cmd.Flags().StringVar(&mockupPath, "mockup", "", "mockup image the template belongs to")
	cmd.Flags().StringVar(&size, "size", "", "mockup size WIDTHxHEIGHT")
	return cmd
}
