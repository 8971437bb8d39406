// Package gameserver implements the session gateway: it decodes client
// requests, applies them to the player and room registries, runs the meeting
// pipeline, and fans out the resulting events to the right audience.
package gameserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/sus/internal/game/meeting"
	"github.com/cory-johannsen/sus/internal/game/player"
	"github.com/cory-johannsen/sus/internal/game/room"
	"github.com/cory-johannsen/sus/internal/game/win"
	"github.com/cory-johannsen/sus/internal/observability"
)

// Options tunes game rules applied by the gateway.
type Options struct {
	// MeetingDuration is how long a meeting stays open. Zero means meeting.DefaultDuration.
	MeetingDuration time.Duration
	// MinPlayers is the smallest room that may start. Zero means 2.
	MinPlayers int
}

// Gateway maps protocol requests onto the registries and emits events.
// All methods are safe for concurrent use; requests from different
// connections may be dispatched in parallel.
type Gateway struct {
	players  *player.Registry
	rooms    *room.Registry
	hub      *Hub
	meetings *MeetingScheduler
	logger   *zap.Logger

	meetingDuration time.Duration
	minPlayers      int
	now             func() time.Time
}

// NewGateway creates a Gateway over the given registries.
//
// Precondition: players, rooms, and logger must be non-nil.
// Postcondition: Returns a Gateway with an empty Hub.
func NewGateway(players *player.Registry, rooms *room.Registry, opts Options, logger *zap.Logger) *Gateway {
	if opts.MeetingDuration <= 0 {
		opts.MeetingDuration = meeting.DefaultDuration
	}
	if opts.MinPlayers <= 0 {
		opts.MinPlayers = 2
	}
	g := &Gateway{
		players:         players,
		rooms:           rooms,
		hub:             NewHub(),
		logger:          logger,
		meetingDuration: opts.MeetingDuration,
		minPlayers:      opts.MinPlayers,
		now:             time.Now,
	}
	g.meetings = NewMeetingScheduler(rooms, g.meetingResolved)
	return g
}

// Hub returns the gateway's connection hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Meetings returns the gateway's meeting scheduler.
func (g *Gateway) Meetings() *MeetingScheduler {
	return g.meetings
}

// Connect registers a new client connection.
func (g *Gateway) Connect(c *Client) {
	g.hub.Add(c)
	g.logger.Debug("client connected", observability.ConnFields(c.ID(), "")...)
}

// Disconnect handles a dropped connection: the player bound to it, if any,
// leaves their room and is removed, exactly as for player:disconnect.
func (g *Gateway) Disconnect(connID string) {
	playerID := g.hub.Remove(connID)
	g.logger.Debug("client disconnected", observability.ConnFields(connID, playerID)...)
	if playerID == "" {
		return
	}
	g.dropPlayer(playerID)
}

// Shutdown cancels all pending meeting deadlines.
func (g *Gateway) Shutdown() {
	g.meetings.Stop()
}

// Dispatch decodes one inbound frame from connID and applies it.
// Malformed frames and unknown events are logged and ignored.
func (g *Gateway) Dispatch(connID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.logger.Warn("malformed frame", append(observability.ConnFields(connID, ""), zap.Error(err))...)
		return
	}

	log := g.logger.With(append(observability.ConnFields(connID, ""), zap.String("event", env.Event))...)
	log.Debug("request")

	var err error
	switch env.Event {
	case EventRegister, eventRegisterBare:
		err = handle(env.Data, func(req RegisterRequest) error { return g.register(connID, req) })
	case EventUnregister, eventUnregisterBare:
		err = handle(env.Data, func(req PlayerRequest) error { return g.unregister(connID, req) })
	case EventPlayerDisconnect:
		err = handle(env.Data, func(req PlayerRequest) error { return g.playerDisconnect(req) })
	case EventRoomCreate:
		err = handle(env.Data, func(req RoomCreateRequest) error { return g.createRoom(connID, req) })
	case EventRoomJoin:
		err = handle(env.Data, func(req RoomJoinRequest) error { return g.joinRoom(connID, req.PlayerID, req.RoomID) })
	case EventRoomLeave:
		err = handle(env.Data, func(req PlayerRequest) error { return g.leaveRoom(req) })
	case EventRoomSendMessage:
		err = handle(env.Data, func(req SendMessageRequest) error { return g.sendMessage(req) })
	case EventGameStart:
		err = handle(env.Data, func(req RoomRequest) error { return g.startGame(connID, req) })
	case EventPlayerMove:
		err = handle(env.Data, func(req MoveRequest) error { return g.move(connID, req) })
	case EventPlayerKill:
		err = handle(env.Data, func(req KillRequest) error { return g.kill(req) })
	case EventMeetingStart:
		err = handle(env.Data, func(req MeetingStartRequest) error { return g.startMeeting(req) })
	case EventMeetingVote:
		err = handle(env.Data, func(req VoteRequest) error { return g.vote(req) })
	case EventMeetingEnd:
		err = handle(env.Data, func(req RoomRequest) error { return g.endMeeting(req) })
	default:
		log.Warn("unknown event")
		return
	}

	switch {
	case errors.Is(err, errNoop):
		log.Debug("request ignored", zap.Error(err))
	case err != nil:
		log.Info("request rejected", zap.Error(err))
	}
}

func handle[T any](data json.RawMessage, fn func(T) error) error {
	req, err := decode[T](data)
	if err != nil {
		return err
	}
	return fn(req)
}

// errNoop marks a request that was dropped without effect: an unknown id or
// a stale request that lost a race.
var errNoop = errors.New("no-op")

func noop(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errNoop}, args...)...)
}

func (g *Gateway) register(connID string, req RegisterRequest) error {
	if req.ID == "" {
		return noop("register without id")
	}
	g.players.Register(req.ID, req.Name, req.Color)
	g.hub.Bind(connID, req.ID)
	g.toClient(connID, EventPlayerRegistered, PlayerIDPayload{PlayerID: req.ID})
	return nil
}

func (g *Gateway) unregister(connID string, req PlayerRequest) error {
	if _, ok := g.players.Get(req.PlayerID); !ok {
		return noop("player %q not found", req.PlayerID)
	}
	g.dropPlayer(req.PlayerID)
	g.toClient(connID, EventPlayerUnregistered, PlayerIDPayload{PlayerID: req.PlayerID})
	return nil
}

func (g *Gateway) playerDisconnect(req PlayerRequest) error {
	if _, ok := g.players.Get(req.PlayerID); !ok {
		return noop("player %q not found", req.PlayerID)
	}
	g.dropPlayer(req.PlayerID)
	return nil
}

func (g *Gateway) createRoom(connID string, req RoomCreateRequest) error {
	rm, ok := g.rooms.Create(req.RoomID, req.HostID)
	if !ok {
		return noop("room %q not created for host %q", req.RoomID, req.HostID)
	}
	g.logger.Info("room created", zap.String("room_id", req.RoomID), zap.String("player_id", req.HostID))
	g.toAll(EventRoomCreated, RoomCreatedPayload{RoomID: rm.ID, Room: NewRoomView(rm)})
	return g.joinRoom(connID, req.HostID, req.RoomID)
}

func (g *Gateway) joinRoom(connID, playerID, roomID string) error {
	p, ok := g.players.Get(playerID)
	if !ok {
		return noop("player %q not found", playerID)
	}
	g.hub.Bind(connID, playerID)

	if rm, ok := g.rooms.FetchOne(roomID); !ok || rm.Started {
		g.toClient(connID, EventRoomJoinError, ErrorPayload{Message: msgJoinRejected})
		if !ok {
			return fmt.Errorf("joining %q: %w", roomID, room.ErrNotFound)
		}
		return fmt.Errorf("joining %q: %w", roomID, room.ErrStarted)
	}
	if p.RoomID != "" && p.RoomID != roomID {
		g.depart(p.RoomID, playerID)
		g.players.Reset(playerID)
	}

	joined, err := g.rooms.JoinOpen(roomID, playerID)
	if err != nil {
		g.toClient(connID, EventRoomJoinError, ErrorPayload{Message: msgJoinRejected})
		return fmt.Errorf("joining %q: %w", roomID, err)
	}
	rm, ok := g.rooms.FetchOne(roomID)
	if !ok {
		return noop("room %q vanished during join", roomID)
	}

	g.toClient(connID, EventRoomJoined, RoomJoinedPayload{
		RoomID:  roomID,
		Room:    NewRoomView(rm),
		Player:  NewPlayerView(joined),
		Started: rm.Started,
	})
	g.toPlayers(rm.MemberIDs(), connID, EventPlayerJoined, PlayerJoinedPayload{
		Player: NewPlayerView(joined),
		RoomID: roomID,
	})
	return nil
}

func (g *Gateway) leaveRoom(req PlayerRequest) error {
	p, ok := g.players.Get(req.PlayerID)
	if !ok {
		return noop("player %q not found", req.PlayerID)
	}
	if p.RoomID == "" {
		return noop("player %q is not in a room", req.PlayerID)
	}
	g.depart(p.RoomID, req.PlayerID)
	g.players.Reset(req.PlayerID)
	return nil
}

func (g *Gateway) sendMessage(req SendMessageRequest) error {
	rm, ok := g.rooms.FetchOne(req.RoomID)
	if !ok || !rm.HasMember(req.PlayerID) {
		return noop("player %q not in room %q", req.PlayerID, req.RoomID)
	}
	g.toPlayers(rm.MemberIDs(), "", EventRoomMessage, RoomMessagePayload{
		PlayerID: req.PlayerID,
		Message:  req.Message,
	})
	return nil
}

func (g *Gateway) startGame(connID string, req RoomRequest) error {
	rm, err := g.rooms.StartMatch(req.RoomID, g.minPlayers)
	switch {
	case errors.Is(err, room.ErrNotEnoughPlayers):
		g.toClient(connID, EventGameStartError, ErrorPayload{Message: fmt.Sprintf(msgNotEnoughPlayer, g.minPlayers)})
		return fmt.Errorf("starting %q: %w", req.RoomID, err)
	case err != nil:
		return fmt.Errorf("starting %q: %w", req.RoomID, err)
	}

	g.meetings.Cancel(req.RoomID)
	g.logger.Info("game started", zap.String("room_id", rm.ID), zap.Int("players", len(rm.Members)))
	for _, id := range rm.MemberIDs() {
		g.toPlayers([]string{id}, "", EventGameStarted, GameStartedPayload{
			RoomID:   rm.ID,
			Imposter: id == rm.ImposterID,
		})
	}
	return nil
}

func (g *Gateway) move(connID string, req MoveRequest) error {
	p, ok := g.rooms.Move(req.RoomID, req.ID, req.patch())
	if !ok {
		return noop("player %q not in room %q", req.ID, req.RoomID)
	}
	rm, ok := g.rooms.FetchOne(req.RoomID)
	if !ok {
		return nil
	}
	g.toPlayers(rm.MemberIDs(), connID, EventPlayerMoved, PlayerMovedPayload{
		PlayerID: p.ID,
		RoomID:   req.RoomID,
		X:        p.Position.X,
		Y:        p.Position.Y,
		Facing:   p.Position.Facing,
		Moving:   p.Moving,
	})
	return nil
}

func (g *Gateway) kill(req KillRequest) error {
	victim, ok := g.rooms.Kill(req.RoomID, req.KillerID, req.PlayerID)
	if !ok {
		return noop("kill of %q by %q in %q rejected", req.PlayerID, req.KillerID, req.RoomID)
	}
	if rm, ok := g.rooms.FetchOne(req.RoomID); ok {
		g.toPlayers(rm.MemberIDs(), "", EventPlayerKilled, PlayerKilledPayload{
			PlayerID: victim.ID,
			RoomID:   req.RoomID,
			KillerID: req.KillerID,
			X:        req.X,
			Y:        req.Y,
			Color:    req.Color,
		})
	}
	g.finishIfDecided(req.RoomID)
	return nil
}

func (g *Gateway) startMeeting(req MeetingStartRequest) error {
	m, err := g.rooms.StartMeeting(req.RoomID, req.CallerID, g.now(), g.meetingDuration)
	if err != nil {
		return fmt.Errorf("meeting in %q: %w", req.RoomID, err)
	}
	if !g.meetings.Arm(req.RoomID, m.ID, g.meetingDuration) {
		return noop("meeting %q in %q resolved before its deadline was armed", m.ID, req.RoomID)
	}

	if rm, ok := g.rooms.FetchOne(req.RoomID); ok {
		g.toPlayers(rm.MemberIDs(), "", EventMeetingStarted, MeetingStartedPayload{
			RoomID:    req.RoomID,
			MeetingID: m.ID,
			CallerID:  m.CallerID,
			Deadline:  m.Deadline.UnixMilli(),
		})
	}
	return nil
}

func (g *Gateway) vote(req VoteRequest) error {
	target := meeting.Skip
	if req.VotedForID != nil {
		target = *req.VotedForID
	}
	meetingID, allVoted, err := g.rooms.CastVote(req.RoomID, req.CallerID, target)
	if err != nil {
		return fmt.Errorf("vote in %q: %w", req.RoomID, err)
	}
	if rm, ok := g.rooms.FetchOne(req.RoomID); ok {
		g.toPlayers(rm.MemberIDs(), "", EventMeetingVoted, MeetingVotedPayload{
			VoterID:  req.CallerID,
			TargetID: nullable(target),
		})
	}
	if allVoted {
		g.meetings.Resolve(req.RoomID, meetingID)
	}
	return nil
}

func (g *Gateway) endMeeting(req RoomRequest) error {
	if _, ok := g.meetings.Resolve(req.RoomID, ""); !ok {
		return noop("no active meeting in %q", req.RoomID)
	}
	return nil
}

// meetingResolved is the tail of the meeting pipeline, run once per meeting.
func (g *Gateway) meetingResolved(roomID string, res meeting.Results) {
	g.logger.Info("meeting resolved",
		zap.String("room_id", roomID),
		zap.String("ejected_id", res.EjectedID),
		zap.Bool("tie", res.Tie),
	)
	if rm, ok := g.rooms.FetchOne(roomID); ok {
		g.toPlayers(rm.MemberIDs(), "", EventMeetingEnded, MeetingEndedPayload{
			RoomID:  roomID,
			Results: NewResultsView(res),
		})
	}
	g.finishIfDecided(roomID)
}

// dropPlayer removes playerID from its room and from the registry.
func (g *Gateway) dropPlayer(playerID string) {
	if p, ok := g.players.Get(playerID); ok && p.RoomID != "" {
		g.depart(p.RoomID, playerID)
	}
	g.players.Remove(playerID)
	g.hub.Unbind(playerID)
}

// depart removes playerID from roomID and runs the follow-ups every
// departure shares: player:left, room deletion, early meeting resolution,
// and the win re-check.
func (g *Gateway) depart(roomID, playerID string) {
	res := g.rooms.Leave(roomID, playerID)
	if !res.Removed {
		return
	}
	g.logger.Info("player left room", zap.String("room_id", roomID), zap.String("player_id", playerID))

	left := PlayerLeftPayload{PlayerID: playerID, RoomID: roomID}
	if res.HostChanged {
		left.HostID = nullable(res.Host.ID)
	}

	if res.Deleted {
		g.meetings.Cancel(roomID)
		g.toPlayers([]string{playerID}, "", EventPlayerLeft, left)
		g.toAll(EventRoomDeleted, RoomIDPayload{RoomID: roomID})
		return
	}

	rm, ok := g.rooms.FetchOne(roomID)
	if !ok {
		return
	}
	g.toPlayers(append(rm.MemberIDs(), playerID), "", EventPlayerLeft, left)
	if !rm.Started {
		return
	}
	if meetingID, all := g.rooms.AllVoted(roomID); all {
		g.meetings.Resolve(roomID, meetingID)
	}
	g.finishIfDecided(roomID)
}

// finishIfDecided ends the match when the win condition is met. Only the
// caller that concludes the match broadcasts game:ended.
func (g *Gateway) finishIfDecided(roomID string) {
	outcome, ok := g.rooms.ConcludeIfDecided(roomID)
	if !ok {
		return
	}
	g.meetings.Cancel(roomID)
	g.logger.Info("game ended", zap.String("room_id", roomID), zap.Stringer("winner", outcome))

	rm, ok := g.rooms.FetchOne(roomID)
	if !ok {
		return
	}
	g.toPlayers(rm.MemberIDs(), "", EventGameEnded, GameEndedPayload{
		RoomID:        roomID,
		IsImposterWin: outcome == win.ImposterWin,
	})
}

func (g *Gateway) toClient(connID, event string, data any) {
	frame, ok := g.encode(event, data)
	if !ok {
		return
	}
	_, dropped := g.hub.ToClient(connID, frame)
	g.logDropped(event, dropped)
}

func (g *Gateway) toPlayers(playerIDs []string, exceptConn, event string, data any) {
	frame, ok := g.encode(event, data)
	if !ok {
		return
	}
	_, dropped := g.hub.ToPlayers(playerIDs, exceptConn, frame)
	g.logDropped(event, dropped)
}

func (g *Gateway) toAll(event string, data any) {
	frame, ok := g.encode(event, data)
	if !ok {
		return
	}
	_, dropped := g.hub.ToAll(frame)
	g.logDropped(event, dropped)
}

func (g *Gateway) encode(event string, data any) ([]byte, bool) {
	frame, err := Encode(event, data)
	if err != nil {
		g.logger.Error("encoding event", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (g *Gateway) logDropped(event string, dropped []string) {
	for _, connID := range dropped {
		g.logger.Warn("event dropped", zap.String("event", event), zap.String("conn_id", connID))
	}
}
