// Package websocket accepts client connections over WebSocket and bridges
// each one to the session gateway.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/sus/internal/config"
	"github.com/cory-johannsen/sus/internal/gameserver"
)

// Path is where clients open their WebSocket.
const Path = "/ws"

// Gateway receives the lifecycle and frames of every connection.
type Gateway interface {
	Connect(c *gameserver.Client)
	Dispatch(connID string, raw []byte)
	Disconnect(connID string)
}

// Acceptor serves HTTP on one address: the WebSocket endpoint plus any
// routes mounted with Handle.
type Acceptor struct {
	cfg      config.WebSocketConfig
	gateway  Gateway
	logger   *zap.Logger
	upgrader gws.Upgrader
	mux      *http.ServeMux

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
	conns    map[string]*gws.Conn
	wg       sync.WaitGroup
}

// NewAcceptor creates an acceptor with the given configuration.
//
// Precondition: gateway and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebSocketConfig, gateway Gateway, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:     cfg,
		gateway: gateway,
		logger:  logger,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from a separate origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux:   http.NewServeMux(),
		conns: make(map[string]*gws.Conn),
	}
	a.mux.HandleFunc("GET "+Path, a.serveWS)
	return a
}

// Handle mounts an additional HTTP route.
//
// Precondition: Must be called before ListenAndServe.
func (a *Acceptor) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// ListenAndServe binds the configured address and serves until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: Returns nil after a clean Stop, or the listen/serve error.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           a.mux,
		ReadHeaderTimeout: a.cfg.WriteTimeout,
	}
	a.mu.Lock()
	a.listener = listener
	a.server = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", a.cfg.Addr(), err)
	}
	return nil
}

// Stop stops accepting, closes every open WebSocket, and waits for their
// pumps to exit or ctx to expire.
//
// Postcondition: All connections are closed and disconnected from the gateway.
func (a *Acceptor) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	srv := a.server
	for _, c := range a.conns {
		c.Close()
	}
	a.mu.Unlock()

	err := srv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	a.logger.Info("websocket acceptor stopped")
	return err
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently serving.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ConnCount returns the number of open WebSocket connections.
func (a *Acceptor) ConnCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	connID := uuid.NewString()
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.conns[connID] = conn
	a.wg.Add(2)
	a.mu.Unlock()

	client := gameserver.NewClient(connID, a.cfg.SendBuffer)
	a.gateway.Connect(client)
	a.logger.Info("client connected",
		zap.String("conn_id", connID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go a.writePump(conn, client)
	go a.readPump(conn, connID)
}
