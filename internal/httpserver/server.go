// Package httpserver hosts the daemon's operational routes and the mux the
// signaling endpoints are registered on.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
)

var (
	errNotServing = errors.New("not serving yet")
	errDraining   = errors.New("draining")
)

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Options struct {
	Config config.Config
	Logger *slog.Logger
	Build  BuildInfo

	// Metrics enables GET /metrics when non-nil.
	Metrics *metrics.Metrics

	// Ready gates /readyz on top of the server's own state. The daemon wires
	// the broker here so a closed broker reports unready.
	Ready func() error
}

type Server struct {
	log  *slog.Logger
	opts Options

	serving  atomic.Bool
	draining atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		opts: opts,
		mux:  http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.HandleFunc("GET /version", s.handleVersion)
	s.mux.HandleFunc("GET /webrtc/ice", s.handleICE)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", metrics.PrometheusHandler(opts.Metrics))
	}

	s.srv = &http.Server{
		Addr: opts.Config.ListenAddr,
		Handler: chain(s.mux,
			recoverMiddleware(logger),
			requestIDMiddleware(),
			requestLoggerMiddleware(logger),
		),
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling WebSockets are long-lived, so no read/write timeouts.
	}
	return s
}

// Mux is for registering signaling routes before Serve.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.serving.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

// Drain makes /readyz fail from now on while every route keeps serving.
// Call it before closing the broker so load balancers stop sending offers
// first.
func (s *Server) Drain() {
	if s.draining.CompareAndSwap(false, true) {
		s.log.Info("http server draining")
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Drain()
	s.serving.Store(false)
	return s.srv.Shutdown(ctx)
}

// Readiness returns nil when the daemon can take offers.
func (s *Server) Readiness() error {
	switch {
	case s.draining.Load():
		return errDraining
	case !s.serving.Load():
		return errNotServing
	case s.opts.Ready != nil:
		return s.opts.Ready()
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if err := s.Readiness(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Build)
}

func (s *Server) handleICE(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"iceServers": config.ICEServersView(s.opts.Config.ICEServers)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
