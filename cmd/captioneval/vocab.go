package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/zvengin/captioneval/internal/logger"
	"github.com/zvengin/captioneval/internal/vocab"
)

func vocabCmd() *cli.Command {
	var encode string

	return &cli.Command{
		Name:      "vocab",
		Usage:     "Inspect a vocabulary: print its size, map ids to words or encode a caption",
		ArgsUsage: "[id ...]",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "encode",
				Usage:       "print the ids of this caption",
				Destination: &encode,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			path, err := resolveVocabPath(vocabPath, modelDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			v, err := vocab.Load(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			w := cmd.Root().Writer

			if encode != "" {
				words := strings.Fields(encode)
				for _, word := range words {
					if !v.Contains(word) {
						logger.FromContext(ctx).Warn("word not in vocabulary", "word", word, "id", v.UnkID())
					}
				}
				ids := v.Encode(words)
				parts := make([]string, len(ids))
				for i, id := range ids {
					parts[i] = strconv.Itoa(id)
				}
				_, _ = fmt.Fprintln(w, strings.Join(parts, " "))
				return nil
			}

			args := cmd.Args().Slice()
			if len(args) == 0 {
				_, _ = fmt.Fprintf(w, "path:    %s\n", path)
				_, _ = fmt.Fprintf(w, "size:    %d\n", v.Len())
				_, _ = fmt.Fprintf(w, "start:   %d\n", v.StartID())
				_, _ = fmt.Fprintf(w, "end:     %d\n", v.EndID())
				_, _ = fmt.Fprintf(w, "unknown: %d\n", v.UnkID())
				if v.PadID() >= 0 {
					_, _ = fmt.Fprintf(w, "pad:     %d\n", v.PadID())
				}
				return nil
			}
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %q is not a token id", arg), 1)
				}
				word, err := v.Word(id)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\n", id, word)
			}
			return nil
		},
	}
}
