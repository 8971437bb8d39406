package room

import (
	"slices"
	"sync"
	"time"

	"github.com/cory-johannsen/sus/internal/game/meeting"
	"github.com/cory-johannsen/sus/internal/game/player"
	"github.com/cory-johannsen/sus/internal/game/rng"
	"github.com/cory-johannsen/sus/internal/game/win"
)

// Registry owns every room keyed by its caller-chosen id.
// All methods are safe for concurrent use.
//
// Locking: the registry lock guards the id → room map; each room has its own
// lock guarding its fields. Locks are taken in the order registry → room →
// player registry and never in reverse, so operations on different rooms do
// not contend.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*state
	players *player.Registry
	src     rng.Source
}

// NewRegistry creates an empty Registry.
//
// Precondition: players and src must be non-nil.
func NewRegistry(players *player.Registry, src rng.Source) *Registry {
	return &Registry{
		rooms:   make(map[string]*state),
		players: players,
		src:     src,
	}
}

// lock returns the live room for roomID with its lock held, or nil.
// The caller must unlock the returned state.
func (r *Registry) lock(roomID string) *state {
	r.mu.RLock()
	st, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	if st.deleted {
		st.mu.Unlock()
		return nil
	}
	return st
}

// Create adds an empty, not-started room with hostID as host. The host is
// not a member until a following Join.
//
// Postcondition: Returns (room, true) on success; (zero, false) if roomID is
// already taken or the host is not registered.
func (r *Registry) Create(roomID, hostID string) (Room, bool) {
	host, ok := r.players.Get(hostID)
	if !ok {
		return Room{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rooms[roomID]; ok {
		existing.mu.Lock()
		dead := existing.deleted
		existing.mu.Unlock()
		if !dead {
			return Room{}, false
		}
	}

	st := &state{
		id:      roomID,
		hostID:  hostID,
		host:    host,
		members: make(map[string]struct{}),
	}
	r.rooms[roomID] = st

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked(r.players), true
}

// Join adds playerID to the room and points the player's back-reference at
// it. The started-game gate is a protocol rule enforced by callers.
//
// Postcondition: Returns (updated player, true), or false if the room or
// player does not exist.
func (r *Registry) Join(roomID, playerID string) (player.Player, bool) {
	st := r.lock(roomID)
	if st == nil {
		return player.Player{}, false
	}
	defer st.mu.Unlock()

	p, ok := r.players.SetRoom(playerID, roomID)
	if !ok {
		return player.Player{}, false
	}
	st.members[playerID] = struct{}{}
	return p, true
}

// JoinOpen is Join gated on the room not having started, checked under the
// room lock.
//
// Postcondition: Returns the updated player, or ErrNotFound (room or player
// absent) or ErrStarted with no state change.
func (r *Registry) JoinOpen(roomID, playerID string) (player.Player, error) {
	st := r.lock(roomID)
	if st == nil {
		return player.Player{}, ErrNotFound
	}
	defer st.mu.Unlock()

	if st.started {
		return player.Player{}, ErrStarted
	}
	p, ok := r.players.SetRoom(playerID, roomID)
	if !ok {
		return player.Player{}, ErrNotFound
	}
	st.members[playerID] = struct{}{}
	return p, nil
}

// Leave removes playerID from the room, clears the player's back-reference
// if it still points here, reassigns the host if needed, and deletes the
// room once it has no members.
//
// Postcondition: A room with zero members is no longer reachable when Leave returns.
func (r *Registry) Leave(roomID, playerID string) LeaveResult {
	st := r.lock(roomID)
	if st == nil {
		return LeaveResult{}
	}

	if _, ok := st.members[playerID]; !ok {
		st.mu.Unlock()
		return LeaveResult{}
	}
	delete(st.members, playerID)
	r.players.ClearRoom(playerID, roomID)

	res := LeaveResult{Removed: true}
	if len(st.members) == 0 {
		st.deleted = true
		if st.meeting != nil {
			st.meeting.Active = false
		}
		st.mu.Unlock()

		r.mu.Lock()
		if r.rooms[roomID] == st {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()

		res.Deleted = true
		return res
	}

	if st.hostID == playerID {
		ids := make([]string, 0, len(st.members))
		for id := range st.members {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		st.hostID = ids[0]
		if h, ok := r.players.Get(st.hostID); ok {
			st.host = h
		} else {
			st.host = player.Player{ID: st.hostID}
		}
		res.HostChanged = true
		res.Host = st.host
	}
	st.mu.Unlock()
	return res
}

// FetchOne returns a snapshot of the room.
//
// Postcondition: Returns (room, true) if found, or (zero, false) otherwise.
func (r *Registry) FetchOne(roomID string) (Room, bool) {
	st := r.lock(roomID)
	if st == nil {
		return Room{}, false
	}
	defer st.mu.Unlock()
	return st.snapshotLocked(r.players), true
}

// FetchAll returns snapshots of every room, ordered by id.
func (r *Registry) FetchAll() []Room {
	r.mu.RLock()
	states := make([]*state, 0, len(r.rooms))
	for _, st := range r.rooms {
		states = append(states, st)
	}
	r.mu.RUnlock()

	rooms := make([]Room, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.deleted {
			rooms = append(rooms, st.snapshotLocked(r.players))
		}
		st.mu.Unlock()
	}
	slices.SortFunc(rooms, func(a, b Room) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return rooms
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// StartGame marks the room started, revives every member, clears earlier
// imposter flags, and picks one member uniformly at random as imposter.
// A room without members starts with no imposter.
//
// Postcondition: Returns (room, true), or false if the room does not exist.
func (r *Registry) StartGame(roomID string) (Room, bool) {
	st := r.lock(roomID)
	if st == nil {
		return Room{}, false
	}
	defer st.mu.Unlock()
	return r.startLocked(st), true
}

// StartMatch is StartGame gated on the room being in its lobby with at least
// minPlayers members, checked under the room lock.
//
// Postcondition: Returns the started room, or ErrNotFound, ErrStarted, or
// ErrNotEnoughPlayers with no state change.
func (r *Registry) StartMatch(roomID string, minPlayers int) (Room, error) {
	st := r.lock(roomID)
	if st == nil {
		return Room{}, ErrNotFound
	}
	defer st.mu.Unlock()

	if st.started {
		return Room{}, ErrStarted
	}
	if len(st.memberIDsLocked(r.players)) < minPlayers {
		return Room{}, ErrNotEnoughPlayers
	}
	return r.startLocked(st), nil
}

func (r *Registry) startLocked(st *state) Room {
	ids := st.memberIDsLocked(r.players)
	st.started = true
	st.imposterID = ""
	st.meeting = nil
	for _, id := range ids {
		r.players.SetAlive(id, true)
		r.players.SetImposter(id, false)
	}
	if len(ids) > 0 {
		st.imposterID = ids[r.src.Intn(len(ids))]
		r.players.SetImposter(st.imposterID, true)
	}
	return st.snapshotLocked(r.players)
}

// CheckWin evaluates the room's win condition without changing it.
// A missing room is Undecided.
func (r *Registry) CheckWin(roomID string) win.Outcome {
	st := r.lock(roomID)
	if st == nil {
		return win.Undecided
	}
	defer st.mu.Unlock()
	return r.evaluateLocked(st)
}

// ConcludeIfDecided evaluates the win condition and, if the match is over,
// returns the room to its lobby: not started, no imposter, any open meeting
// abandoned, and every member reset to spawn.
//
// Postcondition: Exactly one caller observes (outcome, true) for a given match.
func (r *Registry) ConcludeIfDecided(roomID string) (win.Outcome, bool) {
	st := r.lock(roomID)
	if st == nil {
		return win.Undecided, false
	}
	defer st.mu.Unlock()

	outcome := r.evaluateLocked(st)
	if !outcome.Decided() {
		return outcome, false
	}
	st.started = false
	st.imposterID = ""
	if st.meeting != nil {
		st.meeting.Active = false
	}
	for id := range st.members {
		r.players.Reset(id)
	}
	return outcome, true
}

func (r *Registry) evaluateLocked(st *state) win.Outcome {
	parts := make([]win.Participant, 0, len(st.members))
	for id := range st.members {
		p, ok := r.players.Get(id)
		parts = append(parts, win.Participant{ID: id, Alive: ok && p.Alive})
	}
	return win.Evaluate(st.started, st.imposterID, parts)
}

// Move merges a movement update for a member of the room. Updates for a
// player who is not a member (for example a late move after leaving) are
// dropped.
//
// Postcondition: Returns (updated player, true), or false with no state change.
func (r *Registry) Move(roomID, playerID string, patch player.StatePatch) (player.Player, bool) {
	st := r.lock(roomID)
	if st == nil {
		return player.Player{}, false
	}
	defer st.mu.Unlock()

	if _, ok := st.members[playerID]; !ok {
		return player.Player{}, false
	}
	return r.players.UpdateState(playerID, patch)
}

// Kill marks victimID dead. It applies only while the game is running with
// no meeting open, killerID is the room's alive imposter, and victimID is a
// different alive member.
//
// Postcondition: Returns (victim, true) on success, or false with no state change.
func (r *Registry) Kill(roomID, killerID, victimID string) (player.Player, bool) {
	st := r.lock(roomID)
	if st == nil {
		return player.Player{}, false
	}
	defer st.mu.Unlock()

	if !st.started || killerID == victimID || killerID != st.imposterID {
		return player.Player{}, false
	}
	if st.meeting != nil && st.meeting.Active {
		return player.Player{}, false
	}
	if !st.isAliveMemberLocked(r.players, killerID) || !st.isAliveMemberLocked(r.players, victimID) {
		return player.Player{}, false
	}
	return r.players.SetAlive(victimID, false)
}

// StartMeeting opens a meeting called by callerID lasting d from now.
// A meeting that is already active is never replaced.
//
// Postcondition: Returns a copy of the new meeting, or ErrNotFound,
// ErrNotStarted, ErrNotEligible (caller is not an alive member), or ErrMeetingActive.
func (r *Registry) StartMeeting(roomID, callerID string, now time.Time, d time.Duration) (*meeting.Meeting, error) {
	st := r.lock(roomID)
	if st == nil {
		return nil, ErrNotFound
	}
	defer st.mu.Unlock()

	if !st.started {
		return nil, ErrNotStarted
	}
	if !st.isAliveMemberLocked(r.players, callerID) {
		return nil, ErrNotEligible
	}
	if st.meeting != nil && st.meeting.Active {
		return nil, ErrMeetingActive
	}
	st.meeting = meeting.New(callerID, now, d)
	return st.meeting.Clone(), nil
}

// CastVote records voterID's vote for targetID (meeting.Skip to abstain),
// replacing any earlier vote.
//
// Postcondition: Returns the id of the meeting voted in and whether every
// alive member has now voted, or ErrNotFound, ErrNoMeeting, or ErrNotEligible
// (voter is not an alive member, or target is not a member).
func (r *Registry) CastVote(roomID, voterID, targetID string) (string, bool, error) {
	st := r.lock(roomID)
	if st == nil {
		return "", false, ErrNotFound
	}
	defer st.mu.Unlock()

	if st.meeting == nil || !st.meeting.Active {
		return "", false, ErrNoMeeting
	}
	if !st.isAliveMemberLocked(r.players, voterID) {
		return "", false, ErrNotEligible
	}
	if targetID != meeting.Skip {
		if _, ok := st.members[targetID]; !ok {
			return "", false, ErrNotEligible
		}
	}
	if err := st.meeting.Cast(voterID, targetID); err != nil {
		return "", false, err
	}
	return st.meeting.ID, st.meeting.AllVoted(st.aliveMemberIDsLocked(r.players)), nil
}

// AllVoted reports whether the room's active meeting has a vote from every
// alive member, and returns that meeting's id. Departed members are not
// waited for.
func (r *Registry) AllVoted(roomID string) (string, bool) {
	st := r.lock(roomID)
	if st == nil {
		return "", false
	}
	defer st.mu.Unlock()

	if st.meeting == nil || !st.meeting.Active {
		return "", false
	}
	return st.meeting.ID, st.meeting.AllVoted(st.aliveMemberIDsLocked(r.players))
}

// ActiveMeetingID returns the id of the room's active meeting.
//
// Postcondition: Returns (id, true) while a meeting is active, or ("", false).
func (r *Registry) ActiveMeetingID(roomID string) (string, bool) {
	st := r.lock(roomID)
	if st == nil {
		return "", false
	}
	defer st.mu.Unlock()

	if st.meeting == nil || !st.meeting.Active {
		return "", false
	}
	return st.meeting.ID, true
}

// ResolveMeeting closes the room's active meeting and ejects the winner of
// the vote, if any and still a member. When meetingID is non-empty only the
// meeting with that id is resolved.
//
// Postcondition: The first resolve of a meeting returns (results, true);
// later attempts, and attempts for another meeting id, return false.
func (r *Registry) ResolveMeeting(roomID, meetingID string) (meeting.Results, bool) {
	st := r.lock(roomID)
	if st == nil {
		return meeting.Results{}, false
	}
	defer st.mu.Unlock()

	if st.meeting == nil || (meetingID != "" && st.meeting.ID != meetingID) {
		return meeting.Results{}, false
	}
	res, ok := st.meeting.Resolve()
	if !ok {
		return meeting.Results{}, false
	}
	if res.EjectedID != "" {
		if _, member := st.members[res.EjectedID]; member {
			r.players.SetAlive(res.EjectedID, false)
		}
	}
	return res, true
}
