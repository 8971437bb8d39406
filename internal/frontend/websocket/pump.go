package websocket

import (
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/sus/internal/gameserver"
)

// readPump feeds inbound text frames to the gateway until the connection
// fails or goes silent past the read timeout. Pongs extend the deadline.
func (a *Acceptor) readPump(conn *gws.Conn, connID string) {
	start := time.Now()
	defer func() {
		a.mu.Lock()
		delete(a.conns, connID)
		a.mu.Unlock()

		a.gateway.Disconnect(connID)
		conn.Close()
		a.wg.Done()

		a.logger.Info("client disconnected",
			zap.String("conn_id", connID),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	conn.SetReadLimit(a.cfg.MaxMessageBytes)
	if err := conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
		a.logger.Debug("setting read deadline", zap.String("conn_id", connID), zap.Error(err))
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
	})

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure, gws.CloseAbnormalClosure) {
				a.logger.Warn("websocket read error", zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}
		if kind != gws.TextMessage {
			continue
		}
		a.gateway.Dispatch(connID, msg)
	}
}

// writePump drains the client's queue onto the socket and keeps the
// connection alive with pings. It exits when the queue is closed.
func (a *Acceptor) writePump(conn *gws.Conn, client *gameserver.Client) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		a.wg.Done()
	}()

	for {
		select {
		case frame, ok := <-client.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
				_ = conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if err := conn.WriteMessage(gws.TextMessage, frame); err != nil {
				a.logger.Debug("websocket write failed", zap.String("conn_id", client.ID()), zap.Error(err))
				return
			}
			// flush whatever queued up behind this frame
			for n := len(client.Events()); n > 0; n-- {
				frame, ok := <-client.Events()
				if !ok {
					return
				}
				if err := conn.WriteMessage(gws.TextMessage, frame); err != nil {
					a.logger.Debug("websocket write failed", zap.String("conn_id", client.ID()), zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
			if err := conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
