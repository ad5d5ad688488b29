package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/huddlehq/huddle-recorder/internal/config"
	"github.com/huddlehq/huddle-recorder/internal/server"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusServer is the local HTTP surface a UI binds to: status, metrics,
// the event journal and the WebSocket bridge.
type StatusServer struct {
	session     server.Session
	commands    *server.CommandHandler
	journalPath string
}

// NewStatusServer returns a StatusServer for sess. journalPath may be empty.
func NewStatusServer(cfg *config.Config, sess server.Session, journalPath string) *StatusServer {
	return &StatusServer{
		session:     sess,
		commands:    server.NewCommandHandler(cfg, sess, journalPath),
		journalPath: journalPath,
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *StatusServer) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/ws", server.NewBridge(s.session, s.commands))

	mux.HandleFunc("GET /api/participants", s.handleParticipants)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start binds addr and serves in the background. Bind failures are returned.
func (s *StatusServer) Start(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	slog.Info("starting status server", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: types.ShutdownTimeout * 3,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv, nil
}

// shutdownServer stops srv, giving open requests a short grace period.
func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}
