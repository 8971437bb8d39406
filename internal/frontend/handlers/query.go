// Package handlers serves the read-only HTTP projections of game state used
// by lobby and room screens.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/cory-johannsen/sus/internal/game/player"
	"github.com/cory-johannsen/sus/internal/game/room"
	"github.com/cory-johannsen/sus/internal/gameserver"
)

// Router is the subset of http.ServeMux the handlers mount onto.
type Router interface {
	Handle(pattern string, h http.Handler)
}

// Query answers read-only questions about rooms and players. It never
// mutates either registry.
type Query struct {
	players *player.Registry
	rooms   *room.Registry
	logger  *zap.Logger
}

// NewQuery creates a Query over the given registries.
//
// Precondition: players, rooms, and logger must be non-nil.
func NewQuery(players *player.Registry, rooms *room.Registry, logger *zap.Logger) *Query {
	return &Query{players: players, rooms: rooms, logger: logger}
}

// Register mounts every query route on r.
func (q *Query) Register(r Router) {
	r.Handle("GET /status", http.HandlerFunc(q.status))
	r.Handle("GET /rooms", http.HandlerFunc(q.listRooms))
	r.Handle("GET /player/room/{playerId}", http.HandlerFunc(q.playerRoom))
	r.Handle("GET /isImposter", http.HandlerFunc(q.isImposter))
}

type errorBody struct {
	Error string `json:"error"`
}

type playerRoomBody struct {
	Room   gameserver.RoomView   `json:"room"`
	Player gameserver.PlayerView `json:"player"`
}

type isImposterBody struct {
	IsImposter bool `json:"isImposter"`
}

func (q *Query) status(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (q *Query) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := q.rooms.FetchAll()
	views := make([]gameserver.RoomView, 0, len(rooms))
	for _, rm := range rooms {
		views = append(views, gameserver.NewRoomView(rm))
	}
	q.writeJSON(w, http.StatusOK, views)
}

func (q *Query) playerRoom(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("playerId")
	p, ok := q.players.Get(playerID)
	if !ok {
		q.writeJSON(w, http.StatusNotFound, errorBody{Error: "Player not found"})
		return
	}
	rm, ok := q.rooms.FetchOne(p.RoomID)
	if !ok {
		q.writeJSON(w, http.StatusNotFound, errorBody{Error: "Room not found"})
		return
	}
	q.writeJSON(w, http.StatusOK, playerRoomBody{
		Room:   gameserver.NewRoomView(rm),
		Player: gameserver.NewPlayerView(p),
	})
}

// isImposter answers for one player only, so a client can learn its own role
// without the room's assignment being exposed.
func (q *Query) isImposter(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")
	roomID := r.URL.Query().Get("roomId")

	rm, ok := q.rooms.FetchOne(roomID)
	if !ok {
		q.writeJSON(w, http.StatusNotFound, errorBody{Error: "Room not found"})
		return
	}
	if rm.ImposterID == "" {
		q.writeJSON(w, http.StatusBadRequest, errorBody{Error: "No imposter assigned in room"})
		return
	}
	q.writeJSON(w, http.StatusOK, isImposterBody{IsImposter: playerID != "" && playerID == rm.ImposterID})
}

func (q *Query) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		q.logger.Warn("writing response", zap.Error(err))
	}
}
