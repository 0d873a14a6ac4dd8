// Package dataset reads evaluation splits: a JSON manifest of images with
// reference captions, and optionally a safetensors file of precomputed
// image features.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/zvengin/captioneval/internal/safetensors"
)

// FeaturesFile is the name of the shared feature store in a dataset dir.
const FeaturesFile = "features.safetensors"

// ErrFeaturesNotFound is returned when an item has no inline features and
// its key is missing from the feature store.
var ErrFeaturesNotFound = errors.New("features not found")

// Caption is a tokenized reference caption. In a manifest it may be written
// either as an array of words or as a single space separated string.
type Caption []string

func (c *Caption) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = strings.Fields(s)
		return nil
	}
	var words []string
	if err := json.Unmarshal(b, &words); err != nil {
		return fmt.Errorf("caption must be a string or an array of words: %w", err)
	}
	*c = words
	return nil
}

func (c Caption) String() string { return strings.Join(c, " ") }

// Item is one image of a split.
type Item struct {
	ImageID    int64     `json:"image_id"`
	FeatureKey string    `json:"feature_key,omitempty"`
	Features   []float32 `json:"features,omitempty"`
	Captions   []Caption `json:"captions"`
}

// Key is the tensor name of the item's features in the feature store.
func (it Item) Key() string {
	if it.FeatureKey != "" {
		return it.FeatureKey
	}
	return strconv.FormatInt(it.ImageID, 10)
}

// References returns the reference captions as plain strings.
func (it Item) References() []string {
	out := make([]string, len(it.Captions))
	for i, c := range it.Captions {
		out[i] = c.String()
	}
	return out
}

type manifest struct {
	Images []Item `json:"images"`
}

// ParseManifest decodes a split manifest.
func ParseManifest(raw []byte) ([]Item, error) {
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	seen := make(map[int64]struct{}, len(m.Images))
	for _, it := range m.Images {
		if _, dup := seen[it.ImageID]; dup {
			return nil, fmt.Errorf("parse manifest: duplicate image_id %d", it.ImageID)
		}
		seen[it.ImageID] = struct{}{}
	}
	return m.Images, nil
}

// Dataset is an opened split. Features are read per item on demand.
type Dataset struct {
	Dir   string
	Split string
	Items []Item

	store     *safetensors.File
	storeSize int64
}

// Open reads <dir>/<split>.json and, when present, the header of
// <dir>/features.safetensors.
func Open(dir, split string) (*Dataset, error) {
	raw, err := os.ReadFile(filepath.Join(dir, split+".json"))
	if err != nil {
		return nil, fmt.Errorf("open split %q: %w", split, err)
	}
	items, err := ParseManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", split, err)
	}
	d := &Dataset{Dir: dir, Split: split, Items: items}

	path := filepath.Join(dir, FeaturesFile)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if d.store, err = safetensors.Open(path); err != nil {
			return nil, fmt.Errorf("open features: %w", err)
		}
		d.storeSize = info.Size()
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	return d, nil
}

func (d *Dataset) Len() int { return len(d.Items) }

func (d *Dataset) Item(i int) Item { return d.Items[i] }

// FeatureBytes is the size of the feature store on disk, 0 without one.
func (d *Dataset) FeatureBytes() int64 { return d.storeSize }

// Find returns the item with the given image id.
func (d *Dataset) Find(imageID int64) (Item, bool) {
	for _, it := range d.Items {
		if it.ImageID == imageID {
			return it, true
		}
	}
	return Item{}, false
}

// Features returns the feature vector of it. Inline features win over the
// feature store. Multi-dimensional tensors are flattened.
func (d *Dataset) Features(it Item) ([]float32, error) {
	if len(it.Features) > 0 {
		return it.Features, nil
	}
	key := it.Key()
	if d.store == nil {
		return nil, fmt.Errorf("image %d: %w (no %s)", it.ImageID, ErrFeaturesNotFound, FeaturesFile)
	}
	if _, ok := d.store.Tensor(key); !ok {
		return nil, fmt.Errorf("image %d: %w (key %q)", it.ImageID, ErrFeaturesNotFound, key)
	}
	data, _, err := d.store.ReadTensorF32(key)
	if err != nil {
		return nil, fmt.Errorf("image %d: read features: %w", it.ImageID, err)
	}
	return data, nil
}
