package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envModelDir = "CAPTIONEVAL_MODEL_DIR"
	envDataDir  = "CAPTIONEVAL_DATA_DIR"
	envOutDir   = "CAPTIONEVAL_OUT_DIR"
)

const vocabFileName = "vocab.json"

func requireDir(flag, value, env string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("--%s is required unless %s is set", flag, env)
	}
	st, err := os.Stat(value)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", fmt.Errorf("%s is not a directory", value)
	}
	return filepath.Clean(value), nil
}

// resolveOutDir picks the output directory: the flag, then
// CAPTIONEVAL_OUT_DIR, then <model-dir>/eval.
func resolveOutDir(outFlag, modelDir string) string {
	if out := strings.TrimSpace(outFlag); out != "" {
		return filepath.Clean(out)
	}
	if out := strings.TrimSpace(os.Getenv(envOutDir)); out != "" {
		return filepath.Clean(out)
	}
	return filepath.Join(modelDir, "eval")
}

// resolveVocabPath returns the explicit path, or the first vocab.json found
// in the given directories.
func resolveVocabPath(explicit string, dirs ...string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return filepath.Clean(p), nil
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, vocabFileName)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("--vocab not set and no %s found in %s", vocabFileName, strings.Join(nonEmpty(dirs), ", "))
}

func nonEmpty(ss []string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
