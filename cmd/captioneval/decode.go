package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/zvengin/captioneval/internal/dataset"
	"github.com/zvengin/captioneval/internal/decode"
	"github.com/zvengin/captioneval/internal/evaluate"
	"github.com/zvengin/captioneval/internal/logger"
)

func decodeCmd() *cli.Command {
	var (
		featuresPath string
		imageID      int64
		split        string
		asJSON       bool
	)

	return &cli.Command{
		Name:  "decode",
		Usage: "Caption a single image and print the ranked hypotheses",
		Flags: append(withFlags(modelFlags(), dataFlags(), decodeFlags()),
			&cli.StringFlag{
				Name:        "features",
				Aliases:     []string{"f"},
				Usage:       "JSON file with a feature array, or {\"features\": [...]} (- for stdin)",
				Destination: &featuresPath,
			},
			&cli.Int64Flag{
				Name:        "image-id",
				Usage:       "caption this image from --data-dir instead of --features",
				Destination: &imageID,
			},
			&cli.StringFlag{
				Name:        "split",
				Usage:       "dataset split holding --image-id",
				Value:       "test",
				Destination: &split,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the captions as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			log := logger.FromContext(ctx)

			if (featuresPath == "") == !cmd.IsSet("image-id") {
				return cli.Exit("error: set exactly one of --features or --image-id", 1)
			}

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

			var features []float32
			if featuresPath != "" {
				features, err = readFeatures(featuresPath, os.Stdin)
			} else {
				features, err = datasetFeatures(dataDir, split, imageID)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			res, err := dec.Decode(ctx, features)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
			}
			captions, err := evaluate.Captions(res, v)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return printCaptions(cmd.Root().Writer, captions, asJSON)
		},
	}
}

// readFeatures accepts a bare JSON array or an object with a features key.
func readFeatures(path string, stdin io.Reader) ([]float32, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read features: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	var features []float32
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Features []float32 `json:"features"`
		}
		err = json.Unmarshal(raw, &wrapped)
		features = wrapped.Features
	} else {
		err = json.Unmarshal(raw, &features)
	}
	if err != nil {
		return nil, fmt.Errorf("parse features %s: %w", path, err)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("%s holds no features", path)
	}
	return features, nil
}

func datasetFeatures(dir, split string, imageID int64) ([]float32, error) {
	dir, err := requireDir("data-dir", dir, envDataDir)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Open(dir, split)
	if err != nil {
		return nil, err
	}
	it, ok := ds.Find(imageID)
	if !ok {
		return nil, fmt.Errorf("image %d not in split %q", imageID, split)
	}
	return ds.Features(it)
}

func printCaptions(w io.Writer, captions []evaluate.Caption, asJSON bool) error {
	if w == nil {
		w = os.Stdout
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(captions)
	}
	for i, c := range captions {
		mark := ""
		if !c.Finished {
			mark = " (unfinished)"
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s%s\n", i+1, strconv.FormatFloat(c.Score, 'f', 4, 64), c.Text, mark); err != nil {
			return err
		}
	}
	return nil
}
