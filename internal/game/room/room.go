// Package room provides the Room Registry: room lifecycle, membership, host
// assignment, role assignment, and the per-room meeting slot.
package room

import (
	"errors"
	"slices"
	"sync"

	"github.com/cory-johannsen/sus/internal/game/meeting"
	"github.com/cory-johannsen/sus/internal/game/player"
)

// Precondition violations reported by registry operations. Absence of a room
// or player is reported through boolean returns except where an operation
// already returns an error, in which case ErrNotFound is used.
var (
	ErrNotFound         = errors.New("room not found")
	ErrStarted          = errors.New("game already started")
	ErrNotStarted       = errors.New("game not started")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrMeetingActive    = errors.New("a meeting is already active")
	ErrNoMeeting        = errors.New("no active meeting")
	ErrNotEligible      = errors.New("player is not eligible")
)

// Room is a point-in-time snapshot of a room.
type Room struct {
	ID      string
	Started bool
	// ImposterID is the assigned imposter, or "" when none. It may name a
	// player who has since left.
	ImposterID string
	Host       player.Player
	Members    map[string]player.Player
	// Meeting is the current or most recent meeting, nil if none was held.
	Meeting *meeting.Meeting
}

// MemberIDs returns the member ids in ascending order.
func (r Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// HasMember reports whether id is a member of the room.
func (r Room) HasMember(id string) bool {
	_, ok := r.Members[id]
	return ok
}

// LeaveResult reports the side effects of a Leave.
type LeaveResult struct {
	// Removed is false when the room or the membership did not exist.
	Removed bool
	// Deleted is true when the departure emptied and deleted the room.
	Deleted bool
	// HostChanged is true when the departing player was host and a
	// remaining member took over.
	HostChanged bool
	Host        player.Player
}

// state is the mutable record behind a Room. All fields are guarded by mu.
type state struct {
	mu         sync.Mutex
	id         string
	started    bool
	imposterID string
	hostID     string
	host       player.Player
	members    map[string]struct{}
	meeting    *meeting.Meeting
	// deleted marks a room that has been emptied; it is unreachable for
	// every operation even while a stale pointer to it is held.
	deleted bool
}

// memberIDsLocked returns the ids of members whose player record still
// exists, in ascending order.
func (s *state) memberIDsLocked(players *player.Registry) []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		if _, ok := players.Get(id); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// aliveMemberIDsLocked returns the ids of members who are alive.
func (s *state) aliveMemberIDsLocked(players *player.Registry) []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		if p, ok := players.Get(id); ok && p.Alive {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *state) isAliveMemberLocked(players *player.Registry, id string) bool {
	if _, ok := s.members[id]; !ok {
		return false
	}
	p, ok := players.Get(id)
	return ok && p.Alive
}

func (s *state) snapshotLocked(players *player.Registry) Room {
	r := Room{
		ID:         s.id,
		Started:    s.started,
		ImposterID: s.imposterID,
		Host:       s.host,
		Members:    make(map[string]player.Player, len(s.members)),
		Meeting:    s.meeting.Clone(),
	}
	if h, ok := players.Get(s.hostID); ok {
		r.Host = h
	}
	for id := range s.members {
		if p, ok := players.Get(id); ok {
			r.Members[id] = p
		}
	}
	return r
}
