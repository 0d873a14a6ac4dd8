package main

import "github.com/urfave/cli/v3"

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	modelDir  string
	dataDir   string
	vocabPath string

	strategy    string
	beamWidth   int
	maxLength   int
	minLength   int
	slotPolicy  string
	temperature float64
	topK        int
	topP        float64
	seed        int64
)

func rootFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
	}, loggingFlags()...)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-dir",
			Aliases:     []string{"m"},
			Usage:       "directory holding encoder.safetensors and decoder.safetensors",
			Sources:     cli.EnvVars(envModelDir),
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "vocabulary JSON (default: vocab.json in the model or data dir)",
			Destination: &vocabPath,
		},
	}
}

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "dataset directory holding <split>.json and features.safetensors",
			Sources:     cli.EnvVars(envDataDir),
			Destination: &dataDir,
		},
	}
}

func decodeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "strategy",
			Usage:       "decoding strategy (beam, greedy, sample)",
			Value:       "beam",
			Destination: &strategy,
		},
		&cli.IntFlag{
			Name:        "beam-width",
			Aliases:     []string{"k"},
			Usage:       "number of hypotheses kept by beam search",
			Value:       3,
			Destination: &beamWidth,
		},
		&cli.IntFlag{
			Name:        "max-length",
			Usage:       "maximum generated tokens per caption, end token included",
			Value:       20,
			Destination: &maxLength,
		},
		&cli.IntFlag{
			Name:        "min-length",
			Usage:       "suppress the end token before this many tokens",
			Destination: &minLength,
		},
		&cli.StringFlag{
			Name:        "slot-policy",
			Usage:       "what a finished hypothesis does to the beam (free, occupy)",
			Value:       "free",
			Destination: &slotPolicy,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp"},
			Usage:       "sampling temperature (sample strategy)",
			Value:       1.0,
			Destination: &temperature,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "sample only from the k most likely tokens (0 = off)",
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold (0 = off)",
			Destination: &topP,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed (0 = time based)",
			Destination: &seed,
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
