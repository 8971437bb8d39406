package gameserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/sus/internal/game/player"
	"github.com/cory-johannsen/sus/internal/game/room"
)

// firstSource always picks index 0, so the lowest sorted member id is imposter.
type firstSource struct{}

func (firstSource) Intn(int) int { return 0 }

type testEnv struct {
	t       *testing.T
	gw      *Gateway
	players *player.Registry
	rooms   *room.Registry
	clients map[string]*Client
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	players := player.NewRegistry(player.Position{X: 1, Y: 2})
	rooms := room.NewRegistry(players, firstSource{})
	gw := NewGateway(players, rooms, opts, zaptest.NewLogger(t))
	t.Cleanup(gw.Shutdown)
	return &testEnv{t: t, gw: gw, players: players, rooms: rooms, clients: map[string]*Client{}}
}

// connect opens a connection for playerID and registers the player on it.
func (e *testEnv) connect(playerID string) *Client {
	e.t.Helper()
	c := NewClient("conn-"+playerID, 64)
	e.gw.Connect(c)
	e.clients[playerID] = c
	e.send(playerID, EventRegister, RegisterRequest{ID: playerID, Name: "name-" + playerID, Color: "red"})
	return c
}

func (e *testEnv) send(playerID, event string, data any) {
	e.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(e.t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(e.t, err)
	e.gw.Dispatch("conn-"+playerID, frame)
}

// lobby connects ids, creates roomID hosted by ids[0], and joins everyone.
func (e *testEnv) lobby(roomID string, ids ...string) {
	e.t.Helper()
	for _, id := range ids {
		e.connect(id)
	}
	e.send(ids[0], EventRoomCreate, RoomCreateRequest{HostID: ids[0], RoomID: roomID})
	for _, id := range ids[1:] {
		e.send(id, EventRoomJoin, RoomJoinRequest{PlayerID: id, RoomID: roomID})
	}
	rm, ok := e.rooms.FetchOne(roomID)
	require.True(e.t, ok)
	require.Len(e.t, rm.Members, len(ids))
}

// game sets up a lobby and starts it; ids[0] sorts first and is the imposter.
func (e *testEnv) game(roomID string, ids ...string) {
	e.t.Helper()
	e.lobby(roomID, ids...)
	e.send(ids[0], EventGameStart, RoomRequest{RoomID: roomID})
	rm, _ := e.rooms.FetchOne(roomID)
	require.True(e.t, rm.Started)
	require.Equal(e.t, ids[0], rm.ImposterID)
	e.drainAll()
}

func (e *testEnv) drainAll() {
	for _, c := range e.clients {
		drain(c)
	}
}

type received struct {
	Event string
	Data  map[string]any
}

func drain(c *Client) []received {
	var out []received
	for {
		select {
		case frame, ok := <-c.Events():
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				panic(err)
			}
			var data map[string]any
			_ = json.Unmarshal(env.Data, &data)
			out = append(out, received{Event: env.Event, Data: data})
		default:
			return out
		}
	}
}

func events(rs []received, name string) []received {
	var out []received
	for _, r := range rs {
		if r.Event == name {
			out = append(out, r)
		}
	}
	return out
}

func TestGateway_Register(t *testing.T) {
	e := newTestEnv(t, Options{})
	c := e.connect("a")

	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, EventPlayerRegistered, got[0].Event)
	assert.Equal(t, "a", got[0].Data["playerId"])

	pid, ok := e.gw.Hub().PlayerFor("conn-a")
	require.True(t, ok)
	assert.Equal(t, "a", pid)
}

func TestGateway_RegisterEventNames(t *testing.T) {
	for _, names := range [][2]string{
		{"player:register", "player:unregister"},
		{"register", "unregister"},
	} {
		t.Run(names[0], func(t *testing.T) {
			e := newTestEnv(t, Options{})
			c := NewClient("conn-p1", 8)
			e.gw.Connect(c)

			e.gw.Dispatch("conn-p1", []byte(`{"event":"`+names[0]+`","data":{"id":"p1","name":"Alice","color":"red"}}`))
			_, ok := e.players.Get("p1")
			require.True(t, ok)
			got := drain(c)
			require.Len(t, got, 1)
			assert.Equal(t, "player:registered", got[0].Event)

			e.gw.Dispatch("conn-p1", []byte(`{"event":"`+names[1]+`","data":{"playerId":"p1"}}`))
			_, ok = e.players.Get("p1")
			assert.False(t, ok)
			got = drain(c)
			require.Len(t, got, 1)
			assert.Equal(t, "player:unregistered", got[0].Event)
		})
	}
}

func TestGateway_ReRegisterKeepsRoomAndAlive(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	e.send("a", EventRegister, RegisterRequest{ID: "a", Name: "Renamed", Color: "blue"})

	p, ok := e.players.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, "R1", p.RoomID)
	assert.True(t, p.Alive)
}

func TestGateway_CreateRoomBroadcastsAndJoinsHost(t *testing.T) {
	e := newTestEnv(t, Options{})
	host := e.connect("a")
	other := e.connect("z")
	e.drainAll()

	e.send("a", EventRoomCreate, RoomCreateRequest{HostID: "a", RoomID: "R1"})

	hostEvents := drain(host)
	require.Len(t, events(hostEvents, EventRoomCreated), 1)
	joined := events(hostEvents, EventRoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "R1", joined[0].Data["roomId"])
	assert.Equal(t, false, joined[0].Data["started"])

	otherEvents := drain(other)
	require.Len(t, events(otherEvents, EventRoomCreated), 1)
	assert.Empty(t, events(otherEvents, EventPlayerJoined), "non-members see no joins")
}

func TestGateway_CreateRoomCollisionIsSilent(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a")
	b := e.connect("b")
	drain(b)

	e.send("b", EventRoomCreate, RoomCreateRequest{HostID: "b", RoomID: "R1"})
	got := drain(b)
	assert.Empty(t, events(got, EventRoomCreated))
	rm, _ := e.rooms.FetchOne("R1")
	assert.Equal(t, "a", rm.Host.ID)
	assert.False(t, rm.HasMember("b"))
}

func TestGateway_JoinNotifiesOthersNotJoiner(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a")
	b := e.connect("b")
	e.drainAll()

	e.send("b", EventRoomJoin, RoomJoinRequest{PlayerID: "b", RoomID: "R1"})

	aEvents := drain(e.clients["a"])
	pj := events(aEvents, EventPlayerJoined)
	require.Len(t, pj, 1)
	assert.Equal(t, "R1", pj[0].Data["roomId"])
	assert.Equal(t, "b", pj[0].Data["player"].(map[string]any)["id"])

	bEvents := drain(b)
	assert.Len(t, events(bEvents, EventRoomJoined), 1)
	assert.Empty(t, events(bEvents, EventPlayerJoined))
}

func TestGateway_JoinStartedRoomRejected(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.game("R1", "a", "b")
	late := e.connect("late")
	drain(late)

	e.send("late", EventRoomJoin, RoomJoinRequest{PlayerID: "late", RoomID: "R1"})

	got := drain(late)
	require.Len(t, got, 1)
	assert.Equal(t, EventRoomJoinError, got[0].Event)
	assert.NotEmpty(t, got[0].Data["message"])

	rm, _ := e.rooms.FetchOne("R1")
	assert.False(t, rm.HasMember("late"))
	p, _ := e.players.Get("late")
	assert.Empty(t, p.RoomID)
}

func TestGateway_JoinUnknownRoomRejected(t *testing.T) {
	e := newTestEnv(t, Options{})
	c := e.connect("a")
	drain(c)

	e.send("a", EventRoomJoin, RoomJoinRequest{PlayerID: "a", RoomID: "nope"})
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, EventRoomJoinError, got[0].Event)
}

func TestGateway_JoinOtherRoomLeavesCurrent(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	e.lobby("R2", "c")
	e.drainAll()

	e.send("b", EventRoomJoin, RoomJoinRequest{PlayerID: "b", RoomID: "R2"})

	r1, _ := e.rooms.FetchOne("R1")
	assert.False(t, r1.HasMember("b"))
	r2, _ := e.rooms.FetchOne("R2")
	assert.True(t, r2.HasMember("b"))
	p, _ := e.players.Get("b")
	assert.Equal(t, "R2", p.RoomID)

	assert.Len(t, events(drain(e.clients["a"]), EventPlayerLeft), 1)
}

func TestGateway_StartNeedsTwoPlayers(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a")
	e.drainAll()

	e.send("a", EventGameStart, RoomRequest{RoomID: "R1"})

	got := drain(e.clients["a"])
	require.Len(t, got, 1)
	assert.Equal(t, EventGameStartError, got[0].Event)
	rm, _ := e.rooms.FetchOne("R1")
	assert.False(t, rm.Started)
}

func TestGateway_GameStartedIsPersonalised(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b", "c")
	e.drainAll()

	e.send("b", EventGameStart, RoomRequest{RoomID: "R1"})

	imposters := 0
	for id, c := range e.clients {
		got := events(drain(c), EventGameStarted)
		require.Len(t, got, 1, "player %s", id)
		assert.Equal(t, "R1", got[0].Data["roomId"])
		if got[0].Data["imposter"] == true {
			imposters++
			assert.Equal(t, "a", id)
		}
	}
	assert.Equal(t, 1, imposters)
}

func TestGateway_MoveBroadcastsToOthers(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	e.drainAll()

	x := 50.0
	moving := true
	e.send("a", EventPlayerMove, MoveRequest{ID: "a", RoomID: "R1", X: &x, Moving: &moving})

	moved := events(drain(e.clients["b"]), EventPlayerMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, "a", moved[0].Data["playerId"])
	assert.Equal(t, 50.0, moved[0].Data["x"])
	assert.Equal(t, 2.0, moved[0].Data["y"], "omitted fields keep their value")
	assert.Empty(t, events(drain(e.clients["a"]), EventPlayerMoved))
}

func TestGateway_MoveFromNonMemberIsNoop(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a")
	e.connect("x")
	e.drainAll()

	x := 50.0
	e.send("x", EventPlayerMove, MoveRequest{ID: "x", RoomID: "R1", X: &x})

	p, _ := e.players.Get("x")
	assert.Equal(t, 1.0, p.Position.X)
	assert.Empty(t, drain(e.clients["a"]))
}

func TestGateway_KillEndsGameWhenImpostersMatchCrew(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.game("R1", "a", "b", "c")

	e.send("a", EventPlayerKill, KillRequest{PlayerID: "b", RoomID: "R1", KillerID: "a", X: 3, Y: 4, Color: "red"})

	for id, c := range e.clients {
		got := drain(c)
		killed := events(got, EventPlayerKilled)
		require.Len(t, killed, 1, "player %s", id)
		assert.Equal(t, "b", killed[0].Data["playerId"])
		ended := events(got, EventGameEnded)
		require.Len(t, ended, 1, "player %s", id)
		assert.Equal(t, true, ended[0].Data["isImposterWin"])
	}

	rm, _ := e.rooms.FetchOne("R1")
	assert.False(t, rm.Started)
	for _, p := range rm.Members {
		assert.True(t, p.Alive)
	}
}

func TestGateway_KillByCrewIgnored(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.game("R1", "a", "b", "c")

	e.send("b", EventPlayerKill, KillRequest{PlayerID: "c", RoomID: "R1", KillerID: "b"})

	p, _ := e.players.Get("c")
	assert.True(t, p.Alive)
	assert.Empty(t, drain(e.clients["c"]))
}

func TestGateway_UnanimousVoteResolvesOnce(t *testing.T) {
	e := newTestEnv(t, Options{MeetingDuration: time.Minute})
	e.game("R1", "a", "b", "c", "d")

	e.send("b", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "b"})
	started := events(drain(e.clients["c"]), EventMeetingStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "b", started[0].Data["callerId"])
	assert.True(t, e.gw.Meetings().Pending("R1"))

	target := "a"
	for _, id := range []string{"a", "b", "c", "d"} {
		e.send(id, EventMeetingVote, VoteRequest{RoomID: "R1", CallerID: id, VotedForID: &target})
	}
	e.send("b", EventMeetingEnd, RoomRequest{RoomID: "R1"})

	got := drain(e.clients["b"])
	assert.Len(t, events(got, EventMeetingVoted), 4)
	ended := events(got, EventMeetingEnded)
	require.Len(t, ended, 1)
	results := ended[0].Data["results"].(map[string]any)
	assert.Equal(t, "a", results["ejectedId"])
	assert.Equal(t, false, results["tie"])

	gameEnded := events(got, EventGameEnded)
	require.Len(t, gameEnded, 1)
	assert.Equal(t, false, gameEnded[0].Data["isImposterWin"])
	assert.False(t, e.gw.Meetings().Pending("R1"))
}

func TestGateway_SkipVoteIsNull(t *testing.T) {
	e := newTestEnv(t, Options{MeetingDuration: time.Minute})
	e.game("R1", "a", "b", "c")

	e.send("b", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "b"})
	e.send("b", EventMeetingVote, VoteRequest{RoomID: "R1", CallerID: "b"})

	voted := events(drain(e.clients["c"]), EventMeetingVoted)
	require.Len(t, voted, 1)
	assert.Nil(t, voted[0].Data["targetId"])
}

func TestGateway_SecondMeetingRejectedWhileActive(t *testing.T) {
	e := newTestEnv(t, Options{MeetingDuration: time.Minute})
	e.game("R1", "a", "b", "c")

	e.send("b", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "b"})
	first, _ := e.rooms.FetchOne("R1")
	e.send("c", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "c"})
	second, _ := e.rooms.FetchOne("R1")

	assert.Equal(t, first.Meeting.ID, second.Meeting.ID)
	assert.Len(t, events(drain(e.clients["a"]), EventMeetingStarted), 1)
}

func TestGateway_DeadlineResolvesMeeting(t *testing.T) {
	e := newTestEnv(t, Options{MeetingDuration: 20 * time.Millisecond})
	e.game("R1", "a", "b", "c", "d")

	e.send("b", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "b"})
	target := "c"
	e.send("b", EventMeetingVote, VoteRequest{RoomID: "R1", CallerID: "b", VotedForID: &target})

	var got []received
	require.Eventually(t, func() bool {
		got = append(got, drain(e.clients["d"])...)
		return len(events(got, EventMeetingEnded)) == 1
	}, time.Second, 5*time.Millisecond)

	p, _ := e.players.Get("c")
	assert.False(t, p.Alive)
	assert.False(t, e.gw.Meetings().Pending("R1"))

	time.Sleep(40 * time.Millisecond)
	got = append(got, drain(e.clients["d"])...)
	assert.Len(t, events(got, EventMeetingEnded), 1)
}

func TestGateway_DisconnectMidMeetingResolvesWhenRestVoted(t *testing.T) {
	e := newTestEnv(t, Options{MeetingDuration: time.Minute})
	e.game("R1", "a", "b", "c", "d", "e")

	e.send("b", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "b"})
	target := "a"
	for _, id := range []string{"a", "b", "c", "d"} {
		e.send(id, EventMeetingVote, VoteRequest{RoomID: "R1", CallerID: id, VotedForID: &target})
	}
	e.drainAll()

	e.gw.Disconnect("conn-e")

	got := drain(e.clients["b"])
	left := events(got, EventPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "e", left[0].Data["playerId"])
	require.Len(t, events(got, EventMeetingEnded), 1)
	require.Len(t, events(got, EventGameEnded), 1)

	_, ok := e.players.Get("e")
	assert.False(t, ok, "disconnect removes the player record")
}

func TestGateway_DisconnectEndsGameWhenCrewTooFew(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.game("R1", "a", "b", "c")

	e.gw.Disconnect("conn-c")

	got := drain(e.clients["b"])
	ended := events(got, EventGameEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, true, ended[0].Data["isImposterWin"])
}

func TestGateway_LeaveResetsPlayer(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	x := 99.0
	e.send("b", EventPlayerMove, MoveRequest{ID: "b", RoomID: "R1", X: &x})
	e.drainAll()

	e.send("b", EventRoomLeave, PlayerRequest{PlayerID: "b"})

	p, ok := e.players.Get("b")
	require.True(t, ok)
	assert.Empty(t, p.RoomID)
	assert.Equal(t, 1.0, p.Position.X)
	assert.Len(t, events(drain(e.clients["a"]), EventPlayerLeft), 1)
}

func TestGateway_LastLeaveDeletesRoomForEveryone(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a")
	bystander := e.connect("z")
	e.drainAll()

	e.send("a", EventRoomLeave, PlayerRequest{PlayerID: "a"})

	deleted := events(drain(bystander), EventRoomDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "R1", deleted[0].Data["roomId"])
	_, ok := e.rooms.FetchOne("R1")
	assert.False(t, ok)
}

func TestGateway_HostLeaveAnnouncesNewHost(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	e.drainAll()

	e.send("a", EventRoomLeave, PlayerRequest{PlayerID: "a"})

	left := events(drain(e.clients["b"]), EventPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0].Data["hostId"])
}

func TestGateway_DeletingRoomCancelsMeetingDeadline(t *testing.T) {
	e := newTestEnv(t, Options{MeetingDuration: time.Minute})
	e.game("R1", "a", "b", "c", "d")
	e.send("b", EventMeetingStart, MeetingStartRequest{RoomID: "R1", CallerID: "b"})
	require.True(t, e.gw.Meetings().Pending("R1"))

	for _, id := range []string{"a", "b", "c", "d"} {
		e.gw.Disconnect("conn-" + id)
	}
	assert.False(t, e.gw.Meetings().Pending("R1"))
	assert.Zero(t, e.rooms.Count())
}

func TestGateway_Unregister(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	e.drainAll()

	e.send("b", EventUnregister, PlayerRequest{PlayerID: "b"})

	got := drain(e.clients["b"])
	assert.Len(t, events(got, EventPlayerUnregistered), 1)
	_, ok := e.players.Get("b")
	assert.False(t, ok)
	rm, _ := e.rooms.FetchOne("R1")
	assert.False(t, rm.HasMember("b"))
	_, bound := e.gw.Hub().PlayerFor("conn-b")
	assert.False(t, bound)
}

func TestGateway_RoomMessage(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.lobby("R1", "a", "b")
	outsider := e.connect("z")
	e.drainAll()

	e.send("a", EventRoomSendMessage, SendMessageRequest{PlayerID: "a", RoomID: "R1", Message: "hi"})

	for _, id := range []string{"a", "b"} {
		msgs := events(drain(e.clients[id]), EventRoomMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Data["message"])
	}
	assert.Empty(t, drain(outsider))
}

func TestGateway_BadFramesIgnored(t *testing.T) {
	e := newTestEnv(t, Options{})
	c := e.connect("a")
	drain(c)

	e.gw.Dispatch("conn-a", []byte("not json"))
	e.gw.Dispatch("conn-a", []byte(`{"event":"nope","data":{}}`))
	e.gw.Dispatch("conn-a", []byte(`{"event":"room:join","data":"wrong shape"}`))

	assert.Empty(t, drain(c))
}
