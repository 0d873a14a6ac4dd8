// Package report writes evaluation results: a human-readable caption report
// and the image_id/caption records read by COCO caption scorers.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/zvengin/captioneval/internal/evaluate"
)

// Default output file names.
const (
	CaptionFile    = "generated_captions.txt"
	EvaluationFile = "evaluation_captions.json"
)

var (
	rule            = strings.Repeat("*", 50)
	generatedBanner = banner("generated_captions")
	targetBanner    = banner("target_captions")
)

func banner(title string) string {
	return strings.Repeat("-", 20) + title + strings.Repeat("-", 20)
}

// WriteText writes one block per image: the ranked hypotheses with their
// scores, then the reference captions. A failed image shows its error in
// place of hypotheses.
func WriteText(w io.Writer, results []evaluate.ItemResult) error {
	bw := bufio.NewWriter(w)
	for _, res := range results {
		fmt.Fprintln(bw, rule)
		fmt.Fprintln(bw, generatedBanner)
		if res.Failed() {
			fmt.Fprintf(bw, "error: %v\n", res.Err)
		}
		for _, c := range res.Captions {
			fmt.Fprintf(bw, "%s\t%s\n", c.Text, strconv.FormatFloat(c.Score, 'f', 4, 64))
		}
		fmt.Fprintln(bw, targetBanner)
		for _, ref := range res.References {
			fmt.Fprintln(bw, ref)
		}
		fmt.Fprintln(bw, rule)
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// Record is one entry of the evaluation file.
type Record struct {
	ImageID int64  `json:"image_id"`
	Caption string `json:"caption"`
}

// Records keeps the best caption of every successful image.
func Records(results []evaluate.ItemResult) []Record {
	out := make([]Record, 0, len(results))
	for _, res := range results {
		best, ok := res.Best()
		if res.Failed() || !ok {
			continue
		}
		out = append(out, Record{ImageID: res.ImageID, Caption: best.Text})
	}
	return out
}

// WriteJSON writes Records(results) as a JSON array.
func WriteJSON(w io.Writer, results []evaluate.ItemResult) error {
	raw, err := json.Marshal(Records(results))
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// Paths are the files written by WriteFiles.
type Paths struct {
	Captions   string
	Evaluation string
}

// WriteFiles writes both reports into dir, creating it if needed. Empty
// names fall back to CaptionFile and EvaluationFile.
func WriteFiles(dir, captionFile, evaluationFile string, results []evaluate.ItemResult) (Paths, error) {
	if captionFile == "" {
		captionFile = CaptionFile
	}
	if evaluationFile == "" {
		evaluationFile = EvaluationFile
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output dir: %w", err)
	}
	p := Paths{
		Captions:   filepath.Join(dir, captionFile),
		Evaluation: filepath.Join(dir, evaluationFile),
	}
	if err := writeFile(p.Captions, func(w io.Writer) error { return WriteText(w, results) }); err != nil {
		return Paths{}, fmt.Errorf("write captions: %w", err)
	}
	if err := writeFile(p.Evaluation, func(w io.Writer) error { return WriteJSON(w, results) }); err != nil {
		return Paths{}, fmt.Errorf("write evaluation records: %w", err)
	}
	return p, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
