package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/config"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/server"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

const (
	statusInterval          = 3 * time.Second
	readHeaderTimeout       = 10 * time.Second
	notificationTestTimeout = 2 * time.Minute
)

// StatusSource provides the live recorder state shown to clients.
type StatusSource interface {
	Snapshot() types.Telemetry
	Levels() types.Levels
	TickInterval() time.Duration
}

// Server is the HTTP and WebSocket interface of the recorder.
type Server struct {
	config    *config.Config
	status    StatusSource
	notifier  server.NotificationTester
	commands  *server.CommandHandler
	version   *VersionChecker
	input     string
	startTime time.Time

	// Upgraded connections are hijacked, so http.Server.Shutdown does not
	// see them. They are tracked here and closed by Shutdown.
	mu      sync.Mutex
	conns   map[server.WebSocketConn]struct{}
	closing bool
	wsWG    sync.WaitGroup
}

// ServerDeps groups the components the HTTP interface talks to.
type ServerDeps struct {
	Status       StatusSource
	Notifier     server.NotificationTester
	Storage      server.StorageTester
	Version      *VersionChecker
	Input        string
	EventLogPath string
}

// NewServer returns a new Server for cfg.
func NewServer(cfg *config.Config, deps ServerDeps) *Server {
	return &Server{
		config:    cfg,
		status:    deps.Status,
		notifier:  deps.Notifier,
		commands:  server.NewCommandHandler(deps.Notifier, deps.Storage, deps.EventLogPath),
		version:   deps.Version,
		input:     deps.Input,
		startTime: time.Now(),
		conns:     make(map[server.WebSocketConn]struct{}),
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	if !s.trackConn(conn) {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
		return
	}
	defer s.untrackConn(conn)

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Go(func() { s.runWebSocketWriter(conn, send, done) })
	wg.Go(func() { s.runWebSocketReader(conn, send, done, statusUpdate) })

	s.runWebSocketEventLoop(send, done, statusUpdate)
	wg.Wait()
}

// trackConn registers conn for shutdown. It reports false once Shutdown has
// started.
func (s *Server) trackConn(conn server.WebSocketConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wsWG.Add(1)
	return true
}

func (s *Server) untrackConn(conn server.WebSocketConn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wsWG.Done()
}

// closeWebSockets closes every open WebSocket connection and waits for their
// goroutines to finish or ctx to expire. Connections upgraded afterwards are
// closed immediately.
func (s *Server) closeWebSockets(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wsWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return util.WrapError("close WebSocket connections", ctx.Err())
	}
}

// runWebSocketWriter writes messages from the send channel to the connection
// until the reader stops. send is never closed because background command
// handlers may still deliver results after the client has gone.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop sends a level update every tick and a full status
// every few seconds until the reader stops.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(s.status.TickInterval())
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildStatus()
		case <-statusTicker.C:
			msg = s.buildStatus()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: "levels", Levels: s.status.Levels()}
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildStatus returns the current status message.
func (s *Server) buildStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:      "status",
		Telemetry: s.status.Snapshot(),
		Input:     s.input,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/levels", s.handleAPILevels)
	mux.HandleFunc("GET /api/events", s.handleAPIEvents)
	mux.HandleFunc("POST /api/notifications/test", s.handleAPITestNotification)
	mux.HandleFunc("/ws", s.handleWebSocket)

	apiKey := s.config.Snapshot().APIKey
	return server.SecurityHeaders(server.APIKeyAuth(apiKey)(mux))
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// Shutdown stops srv and closes open WebSocket connections, waiting at most
// timeout for both.
func (s *Server) Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(srv.Shutdown(ctx), s.closeWebSockets(ctx))
}
