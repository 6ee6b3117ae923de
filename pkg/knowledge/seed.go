package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

type seedFile struct {
	Entries []Entry `yaml:"entries"`
}

// ParseSeed decodes a YAML seed document
func ParseSeed(data []byte) ([]Entry, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge seed: %w", err)
	}
	return seed.Entries, nil
}

// DefaultEntries returns the built-in landmark knowledge
func DefaultEntries() ([]Entry, error) {
	return ParseSeed(defaultSeed)
}

// LoadDefault replaces the store contents with the built-in seed
func (s *Store) LoadDefault(ctx context.Context) error {
	entries, err := DefaultEntries()
	if err != nil {
		return err
	}
	return s.Load(ctx, entries)
}

// LoadFile replaces the store contents with the entries in a YAML file
func (s *Store) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read knowledge seed: %w", err)
	}
	entries, err := ParseSeed(data)
	if err != nil {
		return err
	}
	return s.Load(ctx, entries)
}
