// Package meeting implements the voting phase of a room: the Idle → Active →
// Resolved state machine, vote tallying, and the deadline timer.
package meeting

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is how long a meeting stays open when not configured.
const DefaultDuration = 10 * time.Second

// Skip is the target recorded for a voter who chose not to eject anyone.
const Skip = ""

// ErrClosed is returned when voting on a meeting that is no longer active.
var ErrClosed = errors.New("meeting is not active")

// Meeting is one voting phase. At most one is active per room.
type Meeting struct {
	// ID distinguishes successive meetings of the same room.
	ID       string
	Active   bool
	CallerID string
	// Votes maps voter id to target id; Skip marks an abstention.
	Votes     map[string]string
	StartedAt time.Time
	Deadline  time.Time
	// Results is set once the meeting resolves.
	Results *Results
}

// New opens a meeting called by callerID that expires d after now.
//
// Postcondition: Returns an active meeting with no votes and a fresh ID.
func New(callerID string, now time.Time, d time.Duration) *Meeting {
	return &Meeting{
		ID:        uuid.NewString(),
		Active:    true,
		CallerID:  callerID,
		Votes:     make(map[string]string),
		StartedAt: now,
		Deadline:  now.Add(d),
	}
}

// Cast records voterID's choice, replacing any earlier one. Votes are accepted
// past the deadline until the meeting is formally resolved.
//
// Postcondition: Returns ErrClosed if the meeting is not active.
func (m *Meeting) Cast(voterID, targetID string) error {
	if !m.Active {
		return ErrClosed
	}
	m.Votes[voterID] = targetID
	return nil
}

// AllVoted reports whether every id in eligible has a recorded vote.
func (m *Meeting) AllVoted(eligible []string) bool {
	for _, id := range eligible {
		if _, ok := m.Votes[id]; !ok {
			return false
		}
	}
	return true
}

// Expired reports whether now is at or past the deadline.
func (m *Meeting) Expired(now time.Time) bool {
	return !now.Before(m.Deadline)
}

// Resolve closes an active meeting and tallies its votes.
//
// Postcondition: The first call on an active meeting returns (results, true);
// every later call returns (zero, false) without re-tallying.
func (m *Meeting) Resolve() (Results, bool) {
	if !m.Active {
		return Results{}, false
	}
	m.Active = false
	res := Tally(m.Votes)
	m.Results = &res
	return res, true
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	c := *m
	c.Votes = maps.Clone(m.Votes)
	if m.Results != nil {
		r := m.Results.clone()
		c.Results = &r
	}
	return &c
}
