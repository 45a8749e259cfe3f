package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/metrics"
	"github.com/zot/qrcanvas/internal/protocol"
	"github.com/zot/qrcanvas/internal/session"
	"github.com/zot/qrcanvas/internal/studio"
)

// Server is the canvas studio HTTP server.
type Server struct {
	config       *config.Config
	studio       *studio.Service
	handler      *protocol.Handler
	httpServer   *http.Server
	httpEndpoint *HTTPEndpoint
	wsEndpoint   *WebSocketEndpoint
	stopCleanup  chan struct{}
}

// serverMessageSender routes handler notifications to websocket clients.
type serverMessageSender struct {
	server *Server
}

func (s *serverMessageSender) Send(connectionID string, msg *protocol.Message) error {
	return s.server.wsEndpoint.Send(connectionID, msg)
}

func (s *serverMessageSender) Broadcast(sessionID, exceptConnectionID string, msg *protocol.Message) error {
	return s.server.wsEndpoint.Broadcast(sessionID, exceptConnectionID, msg)
}

// New creates a new server over svc.
func New(cfg *config.Config, svc *studio.Service) *Server {
	s := &Server{
		config: cfg,
		studio: svc,
	}

	sessions := svc.Sessions()
	s.wsEndpoint = NewWebSocketEndpoint(cfg, sessions)
	s.handler = protocol.NewHandler(svc, &serverMessageSender{server: s}, cfg.Log)
	s.wsEndpoint.SetHandler(s.handler)
	s.httpEndpoint = NewHTTPEndpoint(svc, s.handler, s.wsEndpoint, cfg.Log)

	sessions.SetOnSessionCreated(func(sess *session.Session) error {
		metrics.OpenEditors.Inc()
		s.config.Log(1, "Editor opened: session=%s artifact=%s", sess.ID, sess.ArtifactID())
		return nil
	})
	sessions.SetOnSessionDestroyed(func(sess *session.Session) {
		metrics.OpenEditors.Dec()
		s.wsEndpoint.SessionClosed(sess.ID)
		s.config.Log(1, "Editor closed: session=%s artifact=%s", sess.ID, sess.ArtifactID())
	})

	return s
}

// Handler returns the HTTP handler for the server's routes.
func (s *Server) Handler() http.Handler {
	return s.httpEndpoint
}

// Start starts the HTTP server on the configured port and the cleanup worker.
func (s *Server) Start() (string, error) {
	url, err := s.StartHTTP(s.config.Server.Port)
	if err != nil {
		return "", err
	}
	s.StartCleanupWorker(time.Minute)
	return url, nil
}

// StartHTTP starts the HTTP server on the specified port.
// It returns the full base URL.
func (s *Server) StartHTTP(port int) (string, error) {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.httpEndpoint,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// We need to capture the actual port if 0 was passed
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Update port in config if it was 0
	if port == 0 {
		addr = listener.Addr().String()
		_, portStr, _ := net.SplitHostPort(addr)
		s.config.Server.Port, _ = strconv.Atoi(portStr)
	}

	go func() {
		s.config.Log(0, "HTTP server listening on %s", addr)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.config.Log(0, "HTTP server error: %v", err)
		}
	}()

	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(s.config.Server.Port))), nil
}

// Shutdown gracefully shuts down the server and closes every editor.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopCleanup != nil {
		close(s.stopCleanup)
		s.stopCleanup = nil
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	// hijacked websocket connections aren't tracked by http.Server
	if n := s.wsEndpoint.ConnectionCount(); n > 0 {
		s.config.Log(1, "Closing %d websocket connections", n)
	}
	s.wsEndpoint.CloseAll()
	s.studio.Close()
	return err
}

// GetStudio returns the studio service.
func (s *Server) GetStudio() *studio.Service {
	return s.studio
}

// GetHandler returns the protocol handler.
func (s *Server) GetHandler() *protocol.Handler {
	return s.handler
}

// StartCleanupWorker starts a background worker to close idle editors.
func (s *Server) StartCleanupWorker(interval time.Duration) {
	stop := make(chan struct{})
	s.stopCleanup = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				count := s.studio.Sessions().CleanupInactiveSessions()
				if count > 0 {
					s.config.Log(0, "Cleaned up %d inactive editors", count)
				}
			case <-stop:
				return
			}
		}
	}()
}
