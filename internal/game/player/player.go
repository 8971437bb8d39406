// Package player provides the Player Registry: player identity and per-player
// mutable state (position, alive and imposter flags, current room).
package player

// Facing is the direction a player sprite faces.
type Facing string

// Facings understood by clients. Other values are stored as sent.
const (
	FacingLeft  Facing = "left"
	FacingRight Facing = "right"
)

// Position is a player's location and facing on the map.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Facing Facing  `json:"facing"`
}

// Player is a snapshot of one registered player.
//
// RoomID is a non-owning back-reference maintained by the room registry;
// the empty string means the player is in no room.
type Player struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	RoomID   string   `json:"roomId,omitempty"`
	Position Position `json:"position"`
	Moving   bool     `json:"moving"`
	Color    string   `json:"color"`
	Alive    bool     `json:"isAlive"`
	Imposter bool     `json:"isImposter"`
}

// StatePatch carries a partial movement update. Nil fields are left unchanged.
type StatePatch struct {
	X      *float64
	Y      *float64
	Facing *Facing
	Moving *bool
}

// apply merges the non-nil fields of sp into p.
func (sp StatePatch) apply(p *Player) {
	if sp.X != nil {
		p.Position.X = *sp.X
	}
	if sp.Y != nil {
		p.Position.Y = *sp.Y
	}
	if sp.Facing != nil {
		p.Position.Facing = *sp.Facing
	}
	if sp.Moving != nil {
		p.Moving = *sp.Moving
	}
}
