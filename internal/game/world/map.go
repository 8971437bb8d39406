// Package world provides map definitions: the spawn point and play-area bounds
// shared by every room.
package world

import (
	"fmt"

	"github.com/cory-johannsen/sus/internal/game/player"
)

// Map describes the play area players are placed in.
type Map struct {
	ID     string
	Name   string
	Width  float64
	Height float64
	Spawn  player.Position
}

// DefaultMap is used when no map file is configured.
func DefaultMap() *Map {
	return &Map{
		ID:     "default",
		Name:   "Default",
		Width:  2048,
		Height: 2048,
		Spawn:  player.Position{X: 0, Y: 0, Facing: player.FacingLeft},
	}
}

// Validate checks the map's invariants.
//
// Postcondition: Returns nil if the map is usable, or the first violation.
func (m *Map) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("map ID must not be empty")
	}
	if m.Name == "" {
		return fmt.Errorf("map %q: name must not be empty", m.ID)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("map %q: dimensions must be positive, got %gx%g", m.ID, m.Width, m.Height)
	}
	if !m.Contains(m.Spawn.X, m.Spawn.Y) {
		return fmt.Errorf("map %q: spawn (%g,%g) lies outside the map", m.ID, m.Spawn.X, m.Spawn.Y)
	}
	switch m.Spawn.Facing {
	case player.FacingLeft, player.FacingRight:
	default:
		return fmt.Errorf("map %q: spawn facing must be left or right, got %q", m.ID, m.Spawn.Facing)
	}
	return nil
}

// Contains reports whether (x, y) lies within the map bounds.
func (m *Map) Contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= m.Width && y <= m.Height
}
