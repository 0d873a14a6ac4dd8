package vocab

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Reserved tokens every caption vocabulary carries.
const (
	PadToken   = "<pad>"
	StartToken = "<start>"
	EndToken   = "<end>"
	UnkToken   = "<unk>"
)

var (
	ErrIndexOutOfRange = errors.New("vocab: index out of range")
	ErrMissingReserved = errors.New("vocab: missing reserved token")
)

// Vocabulary maps caption words to model indices and back.
type Vocabulary struct {
	idx2word []string
	word2idx map[string]int

	startID int
	endID   int
	unkID   int
	padID   int
}

// New builds a Vocabulary where words[i] has index i. The start, end and
// unknown tokens must be present; padding is optional (PadID returns -1).
func New(words []string) (*Vocabulary, error) {
	v := &Vocabulary{
		idx2word: append([]string(nil), words...),
		word2idx: make(map[string]int, len(words)),
		padID:    -1,
	}
	for i, w := range v.idx2word {
		if _, dup := v.word2idx[w]; dup {
			return nil, fmt.Errorf("vocab: duplicate token %q at index %d", w, i)
		}
		v.word2idx[w] = i
	}

	var missing []string
	lookup := func(tok string) int {
		id, ok := v.word2idx[tok]
		if !ok {
			missing = append(missing, tok)
			return -1
		}
		return id
	}
	v.startID = lookup(StartToken)
	v.endID = lookup(EndToken)
	v.unkID = lookup(UnkToken)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingReserved, strings.Join(missing, ", "))
	}
	if id, ok := v.word2idx[PadToken]; ok {
		v.padID = id
	}
	return v, nil
}

type vocabFile struct {
	Idx2Word []string       `json:"idx2word"`
	Word2Idx map[string]int `json:"word2idx"`
}

// Load reads a vocabulary JSON file. Accepted layouts are a bare token array,
// an object with an "idx2word" array, or an object with a "word2idx" map.
func Load(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return v, nil
}

// Parse decodes vocabulary JSON; see Load for the accepted layouts.
func Parse(raw []byte) (*Vocabulary, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var words []string
		if err := json.Unmarshal(raw, &words); err != nil {
			return nil, fmt.Errorf("parse vocab array: %w", err)
		}
		return New(words)
	}

	var f vocabFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse vocab object: %w", err)
	}
	switch {
	case len(f.Idx2Word) > 0:
		return New(f.Idx2Word)
	case len(f.Word2Idx) > 0:
		words := make([]string, len(f.Word2Idx))
		filled := make([]bool, len(f.Word2Idx))
		for w, id := range f.Word2Idx {
			if id < 0 || id >= len(words) {
				return nil, fmt.Errorf("word2idx: %q has index %d outside [0, %d)", w, id, len(words))
			}
			if filled[id] {
				return nil, fmt.Errorf("word2idx: index %d assigned twice", id)
			}
			words[id] = w
			filled[id] = true
		}
		return New(words)
	default:
		return nil, errors.New("vocab json must contain idx2word or word2idx")
	}
}

func (v *Vocabulary) Len() int     { return len(v.idx2word) }
func (v *Vocabulary) StartID() int { return v.startID }
func (v *Vocabulary) EndID() int   { return v.endID }
func (v *Vocabulary) UnkID() int   { return v.unkID }
func (v *Vocabulary) PadID() int   { return v.padID }

// Index returns the id of word, falling back to the unknown token.
func (v *Vocabulary) Index(word string) int {
	if id, ok := v.word2idx[word]; ok {
		return id
	}
	return v.unkID
}

// Contains reports whether word has its own index.
func (v *Vocabulary) Contains(word string) bool {
	_, ok := v.word2idx[word]
	return ok
}

// Word returns the token for id.
func (v *Vocabulary) Word(id int) (string, error) {
	if id < 0 || id >= len(v.idx2word) {
		return "", fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, id, len(v.idx2word))
	}
	return v.idx2word[id], nil
}

// Encode maps words to ids, wrapped in start and end tokens.
func (v *Vocabulary) Encode(words []string) []int {
	ids := make([]int, 0, len(words)+2)
	ids = append(ids, v.startID)
	for _, w := range words {
		ids = append(ids, v.Index(w))
	}
	return append(ids, v.endID)
}

// Decode turns generated ids into caption words. Start tokens are skipped and
// decoding stops at the first end token. An id outside the vocabulary aborts
// the whole caption.
func (v *Vocabulary) Decode(ids []int) ([]string, error) {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		w, err := v.Word(id)
		if err != nil {
			return nil, err
		}
		if id == v.startID {
			continue
		}
		if id == v.endID {
			break
		}
		words = append(words, w)
	}
	return words, nil
}

// Caption is Decode joined with single spaces.
func (v *Vocabulary) Caption(ids []int) (string, error) {
	words, err := v.Decode(ids)
	if err != nil {
		return "", err
	}
	return strings.Join(words, " "), nil
}
