package player

import "sync"

// Registry owns every player record keyed by id.
// All methods are safe for concurrent use and return copies.
//
// The registry never reaches into rooms; callers that remove a player are
// responsible for cleaning up room membership first.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*Player
	spawn   Position
}

// NewRegistry creates an empty Registry whose new and reset players are
// placed at spawn.
//
// Postcondition: Returns a Registry with zero players.
func NewRegistry(spawn Position) *Registry {
	if spawn.Facing == "" {
		spawn.Facing = FacingLeft
	}
	return &Registry{
		players: make(map[string]*Player),
		spawn:   spawn,
	}
}

// Spawn returns the position assigned to new and reset players.
func (r *Registry) Spawn() Position {
	return r.spawn
}

// Register creates the player if absent, otherwise updates name and color in
// place and leaves room, alive, and imposter state untouched. Never fails.
//
// Postcondition: A record for id exists and is returned.
func (r *Registry) Register(id, name, color string) Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.players[id]; ok {
		p.Name = name
		p.Color = color
		return *p
	}

	p := &Player{
		ID:       id,
		Name:     name,
		Color:    color,
		Position: r.spawn,
		Alive:    true,
	}
	r.players[id] = p
	return *p
}

// Get returns the player for id.
//
// Postcondition: Returns (player, true) if found, or (zero, false) otherwise.
func (r *Registry) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// SetRoom sets the player's room back-reference; "" clears it.
//
// Postcondition: Returns the updated player, or false if id is unknown.
func (r *Registry) SetRoom(id, roomID string) (Player, bool) {
	return r.update(id, func(p *Player) { p.RoomID = roomID })
}

// ClearRoom clears the back-reference only if it still points at roomID, so a
// late leave cannot undo a join to a different room.
//
// Postcondition: Returns true if the reference was cleared.
func (r *Registry) ClearRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok || p.RoomID != roomID {
		return false
	}
	p.RoomID = ""
	return true
}

// UpdateState merges patch into the player's movement state.
//
// Postcondition: Fields omitted from patch are preserved. Returns false if id is unknown.
func (r *Registry) UpdateState(id string, patch StatePatch) (Player, bool) {
	return r.update(id, patch.apply)
}

// SetAlive sets the player's alive flag.
func (r *Registry) SetAlive(id string, alive bool) (Player, bool) {
	return r.update(id, func(p *Player) { p.Alive = alive })
}

// SetImposter sets the player's imposter flag.
func (r *Registry) SetImposter(id string, imposter bool) (Player, bool) {
	return r.update(id, func(p *Player) { p.Imposter = imposter })
}

// Reset returns the player to the spawn point, alive and not an imposter.
// Room membership is untouched.
//
// Postcondition: Returns the updated player, or false if id is unknown.
func (r *Registry) Reset(id string) (Player, bool) {
	return r.update(id, func(p *Player) {
		p.Position = r.spawn
		p.Moving = false
		p.Alive = true
		p.Imposter = false
	})
}

// Remove deletes the player record. Irreversible.
//
// Postcondition: Returns true if a record was deleted.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *Registry) update(id string, fn func(*Player)) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	fn(p)
	return *p, true
}
