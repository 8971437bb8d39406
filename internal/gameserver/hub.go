package gameserver

import (
	"sync"
)

// Hub tracks connected clients and which player each connection speaks for.
// All methods are safe for concurrent use.
//
// A connection is bound to at most one player and a player to at most one
// connection; binding a player to a new connection releases the old binding.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client // conn id → client
	byConn   map[string]string  // conn id → player id
	byPlayer map[string]string  // player id → conn id
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		byConn:   make(map[string]string),
		byPlayer: make(map[string]string),
	}
}

// Add registers a client. A client with the same id is replaced and closed.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	old, ok := h.clients[c.ID()]
	h.clients[c.ID()] = c
	h.mu.Unlock()

	if ok && old != c {
		old.Close()
	}
}

// Remove unregisters and closes the client for connID.
//
// Postcondition: Returns the player id that was bound to the connection, or "".
func (h *Hub) Remove(connID string) string {
	h.mu.Lock()
	c, ok := h.clients[connID]
	delete(h.clients, connID)
	playerID := h.byConn[connID]
	delete(h.byConn, connID)
	if playerID != "" && h.byPlayer[playerID] == connID {
		delete(h.byPlayer, playerID)
	}
	h.mu.Unlock()

	if ok {
		c.Close()
	}
	return playerID
}

// Bind records that connID speaks for playerID.
func (h *Hub) Bind(connID, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[connID]; !ok {
		return
	}
	if prev, ok := h.byConn[connID]; ok && prev != playerID && h.byPlayer[prev] == connID {
		delete(h.byPlayer, prev)
	}
	if prevConn, ok := h.byPlayer[playerID]; ok && prevConn != connID {
		delete(h.byConn, prevConn)
	}
	h.byConn[connID] = playerID
	h.byPlayer[playerID] = connID
}

// Unbind drops playerID's connection binding, leaving the connection open.
func (h *Hub) Unbind(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if connID, ok := h.byPlayer[playerID]; ok {
		delete(h.byPlayer, playerID)
		if h.byConn[connID] == playerID {
			delete(h.byConn, connID)
		}
	}
}

// PlayerFor returns the player bound to connID.
func (h *Hub) PlayerFor(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byConn[connID]
	return id, ok
}

// ConnFor returns the connection bound to playerID.
func (h *Hub) ConnFor(playerID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byPlayer[playerID]
	return id, ok
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ToClient delivers frame to one connection.
//
// Postcondition: Returns the number of clients that accepted the frame and
// the ids of those that did not.
func (h *Hub) ToClient(connID string, frame []byte) (int, []string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return push([]*Client{c}, frame)
}

// ToPlayers delivers frame to the connections bound to playerIDs, skipping
// exceptConn. Players without a connection are skipped.
func (h *Hub) ToPlayers(playerIDs []string, exceptConn string, frame []byte) (int, []string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(playerIDs))
	for _, pid := range playerIDs {
		connID, ok := h.byPlayer[pid]
		if !ok || connID == exceptConn {
			continue
		}
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return push(targets, frame)
}

// ToAll delivers frame to every connected client.
func (h *Hub) ToAll(frame []byte) (int, []string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return push(targets, frame)
}

// push never blocks; a slow client drops frames rather than stalling the room.
func push(targets []*Client, frame []byte) (int, []string) {
	delivered := 0
	var dropped []string
	for _, c := range targets {
		if err := c.Push(frame); err != nil {
			dropped = append(dropped, c.ID())
			continue
		}
		delivered++
	}
	return delivered, dropped
}
