package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/rnn"
	"github.com/zvengin/captioneval/internal/toy"
)

// countingModel counts Step calls of the wrapped model.
type countingModel struct {
	decode.Model
	steps atomic.Int64
}

func (m *countingModel) Step(ctx context.Context, state decode.State, token int) ([]float32, decode.State, error) {
	m.steps.Add(1)
	return m.Model.Step(ctx, state, token)
}

func benchCmd() *cli.Command {
	var (
		arch      string
		vocabSize int
		embed     int
		hidden    int
		features  int
		layers    int
		images    int
		warmup    int
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Decode random feature vectors with a random model and report throughput",
		Flags: append(decodeFlags(),
			&cli.StringFlag{
				Name:        "arch",
				Usage:       "random model architecture (toy, lstm)",
				Value:       "toy",
				Destination: &arch,
			},
			&cli.IntFlag{Name: "vocab-size", Usage: "vocabulary size", Value: 1000, Destination: &vocabSize},
			&cli.IntFlag{Name: "embed", Usage: "embedding width (lstm)", Value: 256, Destination: &embed},
			&cli.IntFlag{Name: "hidden", Usage: "hidden width", Value: 256, Destination: &hidden},
			&cli.IntFlag{Name: "features", Usage: "image feature width", Value: 512, Destination: &features},
			&cli.IntFlag{Name: "layers", Usage: "LSTM layers (lstm)", Value: 1, Destination: &layers},
			&cli.IntFlag{Name: "images", Aliases: []string{"n"}, Usage: "images to decode", Value: 20, Destination: &images},
			&cli.IntFlag{Name: "warmup", Usage: "warmup decodes", Value: 2, Destination: &warmup},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if vocabSize < 4 || hidden < 1 || features < 1 || images < 1 {
				return cli.Exit("error: vocab-size must be at least 4; hidden, features and images at least 1", 1)
			}

			var base decode.Model
			switch arch {
			case "toy":
				base = toy.NewToyLM(vocabSize, hidden, features, 1)
			case "lstm":
				base = rnn.Random(rnn.Shape{Vocab: vocabSize, Embed: embed, Hidden: hidden, Layers: layers, Features: features}, 1)
			default:
				return cli.Exit(fmt.Sprintf("error: unknown arch %q", arch), 1)
			}
			model := &countingModel{Model: base}

			// Token 1 and 2 stand in for <start> and <end>.
			cfg, err := benchConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dec, err := decode.New(model, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			rng := rand.New(rand.NewSource(7))
			inputs := make([][]float32, warmup+images)
			for i := range inputs {
				inputs[i] = make([]float32, features)
				for j := range inputs[i] {
					inputs[i][j] = rng.Float32()*2 - 1
				}
			}

			for i := range warmup {
				if _, err := dec.Decode(ctx, inputs[i]); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup %d: %v", i+1, err), 1)
				}
			}
			model.steps.Store(0)

			log.Info("benchmark started", "arch", arch, "strategy", cfg.Strategy, "beam_width", cfg.BeamWidth, "images", images)
			var tokens int
			start := time.Now()
			for _, in := range inputs[warmup:] {
				res, err := dec.Decode(ctx, in)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
				}
				if best, ok := res.Best(); ok {
					tokens += best.Len()
				}
			}
			elapsed := time.Since(start)

			printBench(cmd.Root().Writer, benchStats{
				Arch:     arch,
				Strategy: cfg.Strategy,
				Width:    cfg.BeamWidth,
				Images:   images,
				Steps:    model.steps.Load(),
				Tokens:   tokens,
				Elapsed:  elapsed,
			})
			return nil
		},
	}
}

func benchConfig() (decode.Config, error) {
	st, err := decode.ParseStrategy(strategy)
	if err != nil {
		return decode.Config{}, err
	}
	policy, err := decode.ParseSlotPolicy(slotPolicy)
	if err != nil {
		return decode.Config{}, err
	}
	cfg := decode.DefaultConfig(1, 2)
	cfg.Strategy = st
	cfg.Policy = policy
	cfg.BeamWidth = beamWidth
	cfg.MaxLength = maxLength
	cfg.MinLength = minLength
	cfg.Sampler.Seed = seed
	cfg.Sampler.Temperature = float32(temperature)
	cfg.Sampler.TopK = topK
	cfg.Sampler.TopP = float32(topP)
	return cfg, cfg.Validate()
}

type benchStats struct {
	Arch     string
	Strategy decode.Strategy
	Width    int
	Images   int
	Steps    int64
	Tokens   int
	Elapsed  time.Duration
}

func printBench(w io.Writer, s benchStats) {
	if w == nil {
		w = os.Stdout
	}
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_, _ = fmt.Fprintln(w, "=== captioneval bench ===")
	_, _ = fmt.Fprintf(w, "model:      %s\n", s.Arch)
	_, _ = fmt.Fprintf(w, "strategy:   %s (width %d)\n", s.Strategy, s.Width)
	_, _ = fmt.Fprintf(w, "GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	_, _ = fmt.Fprintf(w, "images:     %s in %s\n", humanize.Comma(int64(s.Images)), s.Elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "images/s:   %.2f\n", float64(s.Images)/secs)
	_, _ = fmt.Fprintf(w, "steps:      %s (%.0f/s)\n", humanize.Comma(s.Steps), float64(s.Steps)/secs)
	_, _ = fmt.Fprintf(w, "tokens:     %s in best captions\n", humanize.Comma(int64(s.Tokens)))
	_, _ = fmt.Fprintf(w, "memory:     %s alloc, %s sys\n", humanize.Bytes(mem.Alloc), humanize.Bytes(mem.Sys))
}
