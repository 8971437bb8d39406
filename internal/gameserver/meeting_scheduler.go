package gameserver

import (
	"sync"
	"time"

	"github.com/cory-johannsen/sus/internal/game/meeting"
	"github.com/cory-johannsen/sus/internal/game/room"
)

// ResolvedFunc is called once for every meeting that resolves, whichever
// trigger got there first.
type ResolvedFunc func(roomID string, res meeting.Results)

// scheduled is the pending deadline for one room's active meeting.
type scheduled struct {
	meetingID string
	timer     *meeting.DeadlineTimer
}

// MeetingScheduler owns the deadline timer of each room's active meeting and
// funnels the three resolution triggers (deadline, unanimous vote, explicit
// end) through the room registry's state-gated ResolveMeeting.
//
// The scheduler's lock is held across the room registry's active-meeting
// check in Arm and never while resolving or calling the resolved callback.
type MeetingScheduler struct {
	rooms      *room.Registry
	onResolved ResolvedFunc

	mu     sync.Mutex
	timers map[string]*scheduled // room id → pending deadline
}

// NewMeetingScheduler creates a scheduler resolving meetings in rooms.
//
// Precondition: rooms and onResolved must be non-nil.
func NewMeetingScheduler(rooms *room.Registry, onResolved ResolvedFunc) *MeetingScheduler {
	return &MeetingScheduler{
		rooms:      rooms,
		onResolved: onResolved,
		timers:     make(map[string]*scheduled),
	}
}

// Arm schedules meetingID in roomID to resolve after d, replacing any
// earlier deadline for the room. Only the room's active meeting can be
// armed, so a late Arm for a meeting that has already been resolved never
// displaces the deadline of the meeting that followed it.
//
// Postcondition: Returns true and stores a pending deadline for meetingID if
// it is the room's active meeting; otherwise returns false and leaves the
// room's deadline untouched.
func (s *MeetingScheduler) Arm(roomID, meetingID string, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active, ok := s.rooms.ActiveMeetingID(roomID); !ok || active != meetingID {
		return false
	}
	if existing, ok := s.timers[roomID]; ok {
		existing.timer.Stop()
	}
	s.timers[roomID] = &scheduled{
		meetingID: meetingID,
		timer: meeting.NewDeadlineTimer(d, func() {
			s.Resolve(roomID, meetingID)
		}),
	}
	return true
}

// Resolve cancels the room's pending deadline and resolves the meeting.
// An empty meetingID resolves whichever meeting is active.
//
// Postcondition: Returns (results, true) and invokes the resolved callback
// only for the first successful resolution of a meeting.
func (s *MeetingScheduler) Resolve(roomID, meetingID string) (meeting.Results, bool) {
	s.disarm(roomID, meetingID)

	res, ok := s.rooms.ResolveMeeting(roomID, meetingID)
	if !ok {
		return meeting.Results{}, false
	}
	s.onResolved(roomID, res)
	return res, true
}

// Cancel drops the room's pending deadline without resolving.
//
// Postcondition: No pending deadline remains for roomID.
func (s *MeetingScheduler) Cancel(roomID string) {
	s.disarm(roomID, "")
}

// Pending reports whether roomID has an armed deadline.
func (s *MeetingScheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[roomID]
	return ok
}

// Stop cancels every pending deadline.
func (s *MeetingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, sch := range s.timers {
		sch.timer.Stop()
		delete(s.timers, roomID)
	}
}

// disarm stops the room's timer if it belongs to meetingID, or to any
// meeting when meetingID is empty.
func (s *MeetingScheduler) disarm(roomID, meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.timers[roomID]
	if !ok || (meetingID != "" && sch.meetingID != meetingID) {
		return
	}
	sch.timer.Stop()
	delete(s.timers, roomID)
}
