package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/rendezvous"
)

const (
	DefaultPath            = "/pre_connect"
	defaultMaxMessageBytes = 64 * 1024
)

// OfferHandler answers one offer. *rendezvous.Broker implements it.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offer string) (answer string, err error)
}

type Config struct {
	Broker OfferHandler

	// Path accepts offers via POST; Path+"/ws" upgrades to WebSocket.
	// Defaults to DefaultPath.
	Path string

	MaxMessageBytes int64

	// OffersPerSecond limits offers per client IP, shared by both
	// transports. 0 disables the limit.
	OffersPerSecond float64
	// Clock drives the rate limiter; nil uses the wall clock.
	Clock ratelimit.Clock

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server exposes a broker over HTTP.
//
// Endpoints:
//   - POST {path}    : one offer in, one answer out
//   - GET  {path}/ws : WebSocket; each text message is an offer, replies keep request order
type Server struct {
	broker          OfferHandler
	path            string
	maxMessageBytes int64
	logger          *slog.Logger
	metrics         *metrics.Metrics
	upgrader        websocket.Upgrader
	limiter         *ratelimit.KeyedLimiter

	mu    sync.Mutex
	conns map[*wsSession]struct{}
}

func NewServer(cfg Config) *Server {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	maxBytes := cfg.MaxMessageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMessageBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		broker:          cfg.Broker,
		path:            path,
		maxMessageBytes: maxBytes,
		logger:          logger,
		metrics:         cfg.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: ratelimit.NewKeyedLimiter(cfg.Clock, cfg.OffersPerSecond, offerBurst(cfg.OffersPerSecond), 0),
		conns:   make(map[*wsSession]struct{}),
	}
}

func offerBurst(perSecond float64) int {
	if perSecond < 1 {
		return 1
	}
	return int(perSecond + 0.5)
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+s.path, s.handleOffer)
	mux.HandleFunc("GET "+s.path+"/ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close drops every open signaling WebSocket.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*wsSession, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}
}

// offerError is a rejected offer, shaped for either transport.
type offerError struct {
	Status  int
	Code    string
	Message string
}

func (e *offerError) Error() string { return e.Code + ": " + e.Message }

// answer runs one offer payload through the broker. Malformed payloads are
// rejected before the broker queue is touched.
func (s *Server) answer(ctx context.Context, clientIP string, body []byte) (string, *offerError) {
	s.metrics.Inc(metrics.OfferReceived)

	if !s.limiter.Allow(clientIP) {
		s.metrics.Inc(metrics.OfferLimited)
		return "", &offerError{http.StatusTooManyRequests, "rate_limited", "too many offers"}
	}

	if s.broker == nil {
		return "", &offerError{http.StatusInternalServerError, "internal_error", "broker not configured"}
	}

	offer, err := parseOffer(body)
	if err != nil {
		s.metrics.Inc(metrics.OfferMalformed)
		s.logger.Debug("rejecting malformed offer", "err", err)
		return "", &offerError{http.StatusBadRequest, "bad_message", err.Error()}
	}

	answer, err := s.broker.HandleOffer(ctx, offer)
	switch {
	case err == nil:
		return answer, nil
	case errors.Is(err, rendezvous.ErrUnmatchedOffer):
		return "", &offerError{http.StatusConflict, "no_pending_accept", "no pending accept for this offer"}
	case errors.Is(err, rendezvous.ErrBrokerClosed):
		return "", &offerError{http.StatusServiceUnavailable, "unavailable", "rendezvous broker is shutting down"}
	default:
		s.logger.Warn("offer failed", "err", err)
		return "", &offerError{http.StatusInternalServerError, "internal_error", err.Error()}
	}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxMessageBytes))
	if err != nil {
		s.metrics.Inc(metrics.OfferMalformed)
		writeJSONError(w, http.StatusBadRequest, "bad_message", err.Error())
		return
	}

	answer, oerr := s.answer(r.Context(), clientIP(r), body)
	if oerr != nil {
		writeJSONError(w, oerr.Status, oerr.Code, oerr.Message)
		return
	}
	writeJSON(w, http.StatusOK, SessionDescription{Type: typeAnswer, SDP: answer})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.metrics.Inc(metrics.SignalingWSConnected)

	wss := &wsSession{srv: s, conn: conn, ctx: r.Context(), clientIP: clientIP(r)}
	if !s.track(wss) {
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		wss.Close()
		return
	}
	defer s.untrack(wss)
	wss.run()
}

func (s *Server) track(wss *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[wss] = struct{}{}
	return true
}

func (s *Server) untrack(wss *wsSession) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, wss)
	}
	s.mu.Unlock()
}

// clientIP keys rate limiting. Forwarding headers are ignored; run behind a
// proxy only with the limit disabled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
