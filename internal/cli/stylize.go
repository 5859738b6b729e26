package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dunamismax/printstudio/internal/compress"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/rest"
	"github.com/dunamismax/printstudio/internal/stylize"
	"github.com/dunamismax/printstudio/internal/worker"
	"github.com/spf13/cobra"
)

func newStylizeCmd(root *Root) *cobra.Command {
	var (
		params     dzine.StyleParams
		budget     string
		outDir     string
		noCompress bool
	)

	cmd := &cobra.Command{
		Use:   "stylize <photo>",
		Short: "Submit a photo for stylization and wait for the result",
		Long: `Compresses the photo, submits it with the chosen style and polls the task every
two seconds, printing progress. The result URL is printed; with --out-dir the
image is also downloaded there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			photo, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !noCompress {
				photo = compress.Compress(photo, root.cfg.Compress.MaxWidth, root.cfg.Compress.Quality)
			}

			creds, err := root.resolver.Resolve(ctx)
			if err != nil {
				return fmt.Errorf("resolve credentials: %w", err)
			}

			client := dzine.NewClient(rest.NewClient(root.httpClient, root.retryPolicy()), dzine.Config{
				SubmitAttempts: root.cfg.Stylize.SubmitAttempts,
				PollAttempts:   root.cfg.Stylize.PollAttempts,
			})
			taskID, err := client.Submit(ctx, creds.Dzine, photo, params)
			if err != nil {
				return fmt.Errorf("%s: %w", stylize.UserMessage(err), err)
			}
			fmt.Fprintf(out, "task %s submitted\n", taskID)

			last := ""
			poller := stylize.Poller{
				Fetcher:     client.Fetcher(creds.Dzine),
				MaxAttempts: stylize.AttemptsForBudget(budget),
				Interval:    root.cfg.Stylize.PollInterval,
				Logger:      root.logger,
				Sleep:       root.sleep,
				OnProgress: func(s stylize.State) {
					if text := s.ProgressText(); text != last {
						fmt.Fprintln(out, text)
						last = text
					}
				},
			}
			state, err := poller.Run(ctx, taskID)
			if err != nil {
				return fmt.Errorf("%s: %w", stylize.UserMessage(err), err)
			}
			fmt.Fprintln(out, state.ResultURL)

			if outDir == "" {
				return nil
			}
			mirror := worker.NewResultMirror(root.httpClient, dirObjects(outDir), root.retryPolicy())
			res, err := mirror.Mirror(ctx, taskID, state.ResultURL)
			if err != nil {
				return fmt.Errorf("download result: %w", err)
			}
			_, err = fmt.Fprintf(out, "saved %s (%d bytes)\n", res.URL, res.Bytes)
			return err
		},
	}

	cmd.Flags().StringVarP(&params.StyleCode, "style", "s", "", "style code (see GET /v1/styles)")
	cmd.Flags().StringVarP(&params.Prompt, "prompt", "p", "", "optional prompt")
	cmd.Flags().Float64Var(&params.StyleIntensity, "intensity", 0.8, "style intensity in [0,1]")
	cmd.Flags().Float64Var(&params.StructureMatch, "structure", 0.7, "structure match in [0,1]")
	cmd.Flags().IntVar(&params.QualityMode, "quality-mode", 0, "upstream quality mode")
	cmd.Flags().StringVar(&budget, "budget", "standard", "poll budget (standard|extended)")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "download the result into this directory")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "send the photo as is")
	_ = cmd.MarkFlagRequired("style")
	return cmd
}

// dirObjects stores objects as files under a local directory.
type dirObjects string

func (d dirObjects) WriteObject(_ context.Context, objectKey string, data []byte, _ string) error {
	return writeFile(filepath.Join(string(d), filepath.FromSlash(objectKey)), data)
}

func (d dirObjects) PresignedGetURL(_ context.Context, objectKey string) (string, error) {
	return filepath.Join(string(d), filepath.FromSlash(objectKey)), nil
}
