package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/sus/internal/game/player"
)

// yamlMapFile is the top-level YAML structure for map files.
type yamlMapFile struct {
	Map yamlMap `yaml:"map"`
}

// yamlMap is the YAML representation of a map.
type yamlMap struct {
	ID     string    `yaml:"id"`
	Name   string    `yaml:"name"`
	Width  float64   `yaml:"width"`
	Height float64   `yaml:"height"`
	Spawn  yamlSpawn `yaml:"spawn"`
}

type yamlSpawn struct {
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Facing string  `yaml:"facing"`
}

// LoadMapFromFile reads and validates a single map YAML file.
//
// Precondition: path must point to a valid YAML map file.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	return LoadMapFromBytes(data)
}

// LoadMapFromBytes parses and validates a map from YAML bytes.
// A missing spawn facing defaults to left.
//
// Precondition: data must be valid YAML conforming to the map schema.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromBytes(data []byte) (*Map, error) {
	var file yamlMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}

	facing := player.Facing(file.Map.Spawn.Facing)
	if facing == "" {
		facing = player.FacingLeft
	}
	m := &Map{
		ID:     file.Map.ID,
		Name:   file.Map.Name,
		Width:  file.Map.Width,
		Height: file.Map.Height,
		Spawn: player.Position{
			X:      file.Map.Spawn.X,
			Y:      file.Map.Spawn.Y,
			Facing: facing,
		},
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating map: %w", err)
	}
	return m, nil
}

// Load returns the map at path, or DefaultMap when path is empty.
func Load(path string) (*Map, error) {
	if path == "" {
		return DefaultMap(), nil
	}
	return LoadMapFromFile(path)
}
