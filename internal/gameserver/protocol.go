package gameserver

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/sus/internal/game/meeting"
	"github.com/cory-johannsen/sus/internal/game/player"
	"github.com/cory-johannsen/sus/internal/game/room"
)

// Inbound event names.
const (
	EventRegister         = "player:register"
	EventUnregister       = "player:unregister"
	EventPlayerDisconnect = "player:disconnect"
	EventRoomCreate       = "room:create"
	EventRoomJoin         = "room:join"
	EventRoomLeave        = "room:leave"
	EventRoomSendMessage  = "room:send:message"
	EventGameStart        = "game:start"
	EventPlayerMove       = "player:move"
	EventPlayerKill       = "player:kill"
	EventMeetingStart     = "meeting:start"
	EventMeetingVote      = "meeting:vote"
	EventMeetingEnd       = "meeting:end"
)

// Unprefixed spellings of player:register and player:unregister, accepted
// from older clients.
const (
	eventRegisterBare   = "register"
	eventUnregisterBare = "unregister"
)

// Outbound event names.
const (
	EventPlayerRegistered   = "player:registered"
	EventPlayerUnregistered = "player:unregistered"
	EventRoomCreated        = "room:created"
	EventRoomJoined         = "room:joined"
	EventRoomJoinError      = "room:join:error"
	EventPlayerJoined       = "player:joined"
	EventPlayerLeft         = "player:left"
	EventRoomDeleted        = "room:deleted"
	EventRoomMessage        = "room:message"
	EventGameStarted        = "game:started"
	EventGameStartError     = "game:start:error"
	EventPlayerMoved        = "player:moved"
	EventPlayerKilled       = "player:killed"
	EventGameEnded          = "game:ended"
	EventMeetingStarted     = "meeting:started"
	EventMeetingVoted       = "meeting:voted"
	EventMeetingEnded       = "meeting:ended"
)

// Rejection messages shown to the requesting client.
const (
	msgJoinRejected    = "Room not found or game already started"
	msgNotEnoughPlayer = "Need at least %d players to start the game"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode renders an outbound frame.
//
// Postcondition: Returns the JSON frame or a non-nil error if data cannot be marshalled.
func Encode(event string, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", event, err)
	}
	return b, nil
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding payload: %w", err)
	}
	return v, nil
}

// RegisterRequest is the payload of register.
type RegisterRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// PlayerRequest is the payload of unregister, player:disconnect, and room:leave.
type PlayerRequest struct {
	PlayerID string `json:"playerId"`
}

// RoomCreateRequest is the payload of room:create.
type RoomCreateRequest struct {
	HostID string `json:"hostId"`
	RoomID string `json:"roomId"`
}

// RoomJoinRequest is the payload of room:join.
type RoomJoinRequest struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
}

// RoomRequest is the payload of game:start and meeting:end.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// SendMessageRequest is the payload of room:send:message.
type SendMessageRequest struct {
	PlayerID string `json:"playerId"`
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
}

// MoveRequest is the payload of player:move. Omitted fields keep their
// current value.
type MoveRequest struct {
	ID     string         `json:"id"`
	RoomID string         `json:"roomId"`
	X      *float64       `json:"x"`
	Y      *float64       `json:"y"`
	Facing *player.Facing `json:"facing"`
	Moving *bool          `json:"moving"`
}

func (m MoveRequest) patch() player.StatePatch {
	return player.StatePatch{X: m.X, Y: m.Y, Facing: m.Facing, Moving: m.Moving}
}

// KillRequest is the payload of player:kill. PlayerID is the victim; the
// position and color describe the body left behind.
type KillRequest struct {
	PlayerID string  `json:"playerId"`
	RoomID   string  `json:"roomId"`
	KillerID string  `json:"killerId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Color    string  `json:"color"`
}

// MeetingStartRequest is the payload of meeting:start.
type MeetingStartRequest struct {
	RoomID   string `json:"roomId"`
	CallerID string `json:"callerId"`
}

// VoteRequest is the payload of meeting:vote. A null or absent VotedForID
// is a skip.
type VoteRequest struct {
	RoomID     string  `json:"roomId"`
	CallerID   string  `json:"callerId"`
	VotedForID *string `json:"votedForId"`
}

// PlayerView is a player as shown to clients. The imposter flag is never
// included.
type PlayerView struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	RoomID  *string       `json:"roomId"`
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
	Facing  player.Facing `json:"facing"`
	Moving  bool          `json:"moving"`
	Color   string        `json:"color"`
	IsAlive bool          `json:"isAlive"`
}

// NewPlayerView projects p for clients.
func NewPlayerView(p player.Player) PlayerView {
	return PlayerView{
		ID:      p.ID,
		Name:    p.Name,
		RoomID:  nullable(p.RoomID),
		X:       p.Position.X,
		Y:       p.Position.Y,
		Facing:  p.Position.Facing,
		Moving:  p.Moving,
		Color:   p.Color,
		IsAlive: p.Alive,
	}
}

// MeetingView is a meeting as shown to clients.
type MeetingView struct {
	ID       string             `json:"id"`
	Active   bool               `json:"active"`
	CallerID string             `json:"callerId"`
	Deadline int64              `json:"deadline"`
	Votes    map[string]*string `json:"votes"`
	Results  *ResultsView       `json:"results"`
}

// NewMeetingView projects m for clients, or returns nil for a nil meeting.
func NewMeetingView(m *meeting.Meeting) *MeetingView {
	if m == nil {
		return nil
	}
	v := &MeetingView{
		ID:       m.ID,
		Active:   m.Active,
		CallerID: m.CallerID,
		Deadline: m.Deadline.UnixMilli(),
		Votes:    ballot(m.Votes),
	}
	if m.Results != nil {
		r := NewResultsView(*m.Results)
		v.Results = &r
	}
	return v
}

// ResultsView is a meeting outcome as shown to clients. Null ids mean
// nobody was ejected or a voter skipped.
type ResultsView struct {
	EjectedID *string            `json:"ejectedId"`
	Tie       bool               `json:"tie"`
	Counts    map[string]int     `json:"counts"`
	Votes     map[string]*string `json:"votes"`
}

// NewResultsView projects r for clients.
func NewResultsView(r meeting.Results) ResultsView {
	counts := r.Counts
	if counts == nil {
		counts = map[string]int{}
	}
	return ResultsView{
		EjectedID: nullable(r.EjectedID),
		Tie:       r.Tie,
		Counts:    counts,
		Votes:     ballot(r.Votes),
	}
}

// RoomView is a room as shown to clients. The imposter assignment is
// redacted; clients learn only their own role from game:started.
type RoomView struct {
	ID      string                `json:"id"`
	Started bool                  `json:"started"`
	HostID  string                `json:"hostId"`
	Host    PlayerView            `json:"host"`
	Players map[string]PlayerView `json:"players"`
	Order   []string              `json:"order"`
	Meeting *MeetingView          `json:"meeting"`
}

// NewRoomView projects rm for clients.
func NewRoomView(rm room.Room) RoomView {
	v := RoomView{
		ID:      rm.ID,
		Started: rm.Started,
		HostID:  rm.Host.ID,
		Host:    NewPlayerView(rm.Host),
		Players: make(map[string]PlayerView, len(rm.Members)),
		Order:   rm.MemberIDs(),
		Meeting: NewMeetingView(rm.Meeting),
	}
	for id, p := range rm.Members {
		v.Players[id] = NewPlayerView(p)
	}
	return v
}

// Outbound payloads.
type (
	PlayerIDPayload struct {
		PlayerID string `json:"playerId"`
	}
	RoomIDPayload struct {
		RoomID string `json:"roomId"`
	}
	ErrorPayload struct {
		Message string `json:"message"`
	}
	RoomCreatedPayload struct {
		RoomID string   `json:"roomId"`
		Room   RoomView `json:"room"`
	}
	RoomJoinedPayload struct {
		RoomID  string     `json:"roomId"`
		Room    RoomView   `json:"room"`
		Player  PlayerView `json:"player"`
		Started bool       `json:"started"`
	}
	PlayerJoinedPayload struct {
		Player PlayerView `json:"player"`
		RoomID string     `json:"roomId"`
	}
	PlayerLeftPayload struct {
		PlayerID string  `json:"playerId"`
		RoomID   string  `json:"roomId"`
		HostID   *string `json:"hostId,omitempty"`
	}
	RoomMessagePayload struct {
		PlayerID string `json:"playerId"`
		Message  string `json:"message"`
	}
	// GameStartedPayload is sent to each member separately and carries the
	// imposter assignment from that member's point of view: Imposter is true
	// only in the frame sent to the imposter. The imposter's id is never
	// broadcast.
	GameStartedPayload struct {
		RoomID   string `json:"roomId"`
		Imposter bool   `json:"imposter"`
	}
	PlayerMovedPayload struct {
		PlayerID string        `json:"playerId"`
		RoomID   string        `json:"roomId"`
		X        float64       `json:"x"`
		Y        float64       `json:"y"`
		Facing   player.Facing `json:"facing"`
		Moving   bool          `json:"moving"`
	}
	PlayerKilledPayload struct {
		PlayerID string  `json:"playerId"`
		RoomID   string  `json:"roomId"`
		KillerID string  `json:"killerId"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Color    string  `json:"color"`
	}
	GameEndedPayload struct {
		RoomID        string `json:"roomId"`
		IsImposterWin bool   `json:"isImposterWin"`
	}
	MeetingStartedPayload struct {
		RoomID    string `json:"roomId"`
		MeetingID string `json:"meetingId"`
		CallerID  string `json:"callerId"`
		Deadline  int64  `json:"deadline"`
	}
	MeetingVotedPayload struct {
		VoterID  string  `json:"voterId"`
		TargetID *string `json:"targetId"`
	}
	MeetingEndedPayload struct {
		RoomID  string      `json:"roomId"`
		Results ResultsView `json:"results"`
	}
)

func nullable(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func ballot(votes map[string]string) map[string]*string {
	out := make(map[string]*string, len(votes))
	for voter, target := range votes {
		out[voter] = nullable(target)
	}
	return out
}
