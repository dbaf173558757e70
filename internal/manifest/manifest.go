// Package manifest decodes exported content snapshots.
package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-media-reconcile/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid is returned when a manifest fails structural validation.
var ErrInvalid = errors.New("invalid manifest")

//go:embed manifest.schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// wire mirrors the top level of a manifest; entries are decoded one by one.
type wire struct {
	Items      []json.RawMessage `json:"items"`
	MediaIndex []json.RawMessage `json:"media_index"`
	Bundle     *models.Bundle    `json:"media_bundle"`
}

// Load reads and decodes the manifest at path.
func Load(path string) (*models.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m.SourcePath = abs
	return m, nil
}

// Parse validates the manifest structure and decodes it. Content items that
// fail to decode are dropped with a warning; asset descriptors are kept raw.
func Parse(data []byte) (*models.Manifest, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	m := &models.Manifest{MediaIndex: w.MediaIndex}
	if w.Bundle != nil {
		m.Bundle = *w.Bundle
	}
	for i, raw := range w.Items {
		var item models.ContentItem
		if err := json.Unmarshal(raw, &item); err != nil {
			log.WithError(err).Warnf("Skipping content item %d: cannot decode", i)
			continue
		}
		m.Items = append(m.Items, item)
	}
	log.Debugf("Manifest decoded: %d items, %d media entries", len(m.Items), len(m.MediaIndex))
	return m, nil
}

// StorageRoot returns the directory bundled files are resolved against: the
// bundle root hint relative to the manifest file, or the manifest's directory.
func StorageRoot(m *models.Manifest) string {
	base := "."
	if m.SourcePath != "" {
		base = filepath.Dir(m.SourcePath)
	}
	root := strings.TrimSpace(m.Bundle.Root)
	if root == "" {
		return base
	}
	if filepath.IsAbs(root) {
		return filepath.Clean(root)
	}
	return filepath.Join(base, root)
}

// DecodeDescriptor decodes one media index entry.
func DecodeDescriptor(raw json.RawMessage) (models.AssetDescriptor, error) {
	var d models.AssetDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return models.AssetDescriptor{}, err
	}
	return d, nil
}
