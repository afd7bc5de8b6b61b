package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmptyRegistry = errors.New("asset registry is empty")

type file struct {
	Assets []string `yaml:"assets"`
}

// File is the static list of tracked asset ids. It is read from disk on
// every call so each run sees the current file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string {
	return f.path
}

// IDs returns the asset ids in file order with duplicates removed.
func (f *File) IDs() ([]string, error) {
	input, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read asset registry %s: %w", f.path, err)
	}
	ids, err := Parse(input)
	if err != nil {
		return nil, fmt.Errorf("asset registry %s: %w", f.path, err)
	}
	return ids, nil
}

// Parse decodes a registry document of the form `assets: [id, ...]`.
func Parse(input []byte) ([]string, error) {
	var doc file
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("can't unmarshal registry: %w", err)
	}

	ids := make([]string, 0, len(doc.Assets))
	seen := make(map[string]struct{}, len(doc.Assets))
	for i, raw := range doc.Assets {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("blank asset id at position %d", i)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, ErrEmptyRegistry
	}
	return ids, nil
}
