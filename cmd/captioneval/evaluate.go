package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/zvengin/captioneval/internal/dataset"
	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/evaluate"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/report"
)

// exitItemsFailed is the exit code of a --strict run with failed items.
const exitItemsFailed = 3

func evaluateCmd() *cli.Command {
	var (
		split          string
		outDir         string
		captionFile    string
		evaluationFile string
		strict         bool
		noProgress     bool
	)

	return &cli.Command{
		Name:  "evaluate",
		Usage: "Caption every image of a dataset split and write the reports",
		Flags: append(withFlags(modelFlags(), dataFlags(), decodeFlags()),
			&cli.StringFlag{
				Name:        "split",
				Usage:       "dataset split to evaluate",
				Value:       "test",
				Destination: &split,
			},
			&cli.StringFlag{
				Name:        "out-dir",
				Aliases:     []string{"o"},
				Usage:       "output directory (default: $" + envOutDir + " or <model-dir>/eval)",
				Destination: &outDir,
			},
			&cli.StringFlag{
				Name:        "caption-file",
				Usage:       "name of the caption report",
				Value:       report.CaptionFile,
				Destination: &captionFile,
			},
			&cli.StringFlag{
				Name:        "evaluation-file",
				Usage:       "name of the image_id/caption JSON records",
				Value:       report.EvaluationFile,
				Destination: &evaluationFile,
			},
			&cli.BoolFlag{
				Name:        "strict",
				Usage:       "exit non-zero when any image failed",
				Destination: &strict,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			setString(cmd, "out-dir", &outDir, fileConfig.OutDir)
			log := logger.FromContext(ctx)

			model, v, err := loadModel(log, dataDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg, err := decodeConfig(v)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dec, err := decode.New(model, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			dir, err := requireDir("data-dir", dataDir, envDataDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ds, err := dataset.Open(dir, split)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("dataset opened",
				"dir", dir,
				"split", split,
				"images", humanize.Comma(int64(ds.Len())),
				"features", humanize.Bytes(uint64(ds.FeatureBytes())),
			)

			var opts []evaluate.Option
			if !noProgress && isTerminal(os.Stderr) {
				bar := newProgressBar(os.Stderr, ds.Len())
				opts = append(opts, evaluate.WithProgress(func(done, total int) { _ = bar.Set(done) }))
				defer func() { _ = bar.Finish() }()
			}

			results, sum, runErr := evaluate.NewRunner(dec, v, opts...).Run(ctx, ds)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return cli.Exit(fmt.Sprintf("error: %v", runErr), 1)
			}

			paths, err := report.WriteFiles(resolveOutDir(outDir, modelDir), captionFile, evaluationFile, results)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			printSummary(cmd.Root().Writer, sum, paths)

			switch {
			case runErr != nil:
				return cli.Exit("interrupted: partial results written", 130)
			case strict && sum.Failed > 0:
				return cli.Exit(fmt.Sprintf("error: %d of %d images failed", sum.Failed, sum.Items), exitItemsFailed)
			}
			return nil
		},
	}
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("captioning"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("img"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
}

func printSummary(w io.Writer, sum evaluate.Summary, paths report.Paths) {
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintf(w, "run:        %s\n", sum.RunID)
	_, _ = fmt.Fprintf(w, "strategy:   %s\n", sum.Strategy)
	_, _ = fmt.Fprintf(w, "images:     %s (%s ok, %s failed)\n",
		humanize.Comma(int64(sum.Items)), humanize.Comma(int64(sum.Succeeded)), humanize.Comma(int64(sum.Failed)))
	_, _ = fmt.Fprintf(w, "took:       %s\n", sum.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "captions:   %s\n", paths.Captions)
	_, _ = fmt.Fprintf(w, "evaluation: %s\n", paths.Evaluation)
}
