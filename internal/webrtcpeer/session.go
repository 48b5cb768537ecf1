package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/channels"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/sdp"
)

var (
	ErrAlreadyConnected = errors.New("webrtcpeer: session already connected")
	ErrSessionClosed    = errors.New("webrtcpeer: session closed")
)

const (
	defaultICEGatheringTimeout = 2 * time.Second
	channelBacklog             = 16
)

type SessionOptions struct {
	// ICEGatheringTimeout bounds how long Listen waits for candidates before
	// answering with what it has. Defaults to 2s.
	ICEGatheringTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnClose runs once when the session closes, for any reason.
	OnClose func()
}

// Session owns the answering side of one PeerConnection. Inbound data
// channels are reported once open, both on Channels and by label through
// WaitForChannel.
type Session struct {
	id            string
	pc            *webrtc.PeerConnection
	logger        *slog.Logger
	metrics       *metrics.Metrics
	gatherTimeout time.Duration
	onClose       func()

	registry *channels.Registry[*Channel]
	inbound  chan *Channel
	done     chan struct{}

	mu       sync.Mutex
	listened bool
	local    string
	remote   string

	close sync.Once
}

func NewSession(api *webrtc.API, iceServers []webrtc.ICEServer, opts SessionOptions) (*Session, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherTimeout := opts.ICEGatheringTimeout
	if gatherTimeout <= 0 {
		gatherTimeout = defaultICEGatheringTimeout
	}

	s := &Session{
		id:            id,
		pc:            pc,
		logger:        logger.With("session_id", id),
		metrics:       opts.Metrics,
		gatherTimeout: gatherTimeout,
		onClose:       opts.OnClose,
		registry:      channels.New[*Channel](),
		inbound:       make(chan *Channel, channelBacklog),
		done:          make(chan struct{}),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c := NewChannel(dc)
		dc.OnOpen(func() {
			s.channelOpened(c)
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			_ = s.Close()
		}
	})

	s.metrics.Inc(metrics.SessionOpened)
	return s, nil
}

func (s *Session) channelOpened(c *Channel) {
	label := c.Label()
	if !s.registry.Arrive(label, c) {
		s.logger.Warn("duplicate or late data channel", "label", label)
	}
	s.metrics.Inc(metrics.ChannelOpened)
	s.logger.Info("data channel open", "label", label)

	// The stream is advisory: a full backlog drops the notification rather
	// than stalling pion. The channel stays reachable through WaitForChannel.
	select {
	case s.inbound <- c:
	default:
		s.metrics.Inc(metrics.ChannelStreamDropped)
		s.logger.Warn("channel stream full; dropping notification", "label", label)
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) PeerConnection() *webrtc.PeerConnection { return s.pc }

// Listen applies offer as the remote description and returns the local
// answer once ICE gathering completes or the gathering timeout elapses. The
// answer is re-encoded through the sdp package. A session answers at most
// one offer.
func (s *Session) Listen(ctx context.Context, offer string) (string, error) {
	s.mu.Lock()
	if s.listened {
		s.mu.Unlock()
		return "", ErrAlreadyConnected
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return "", ErrSessionClosed
	default:
	}
	s.listened = true
	s.mu.Unlock()

	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.gatherTimeout)
	defer cancel()
	select {
	case <-gatherComplete:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("ice gathering timed out; answering with partial candidates", "timeout", s.gatherTimeout)
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return "", errors.New("missing local description")
	}
	desc, err := sdp.Parse(local.SDP)
	if err != nil {
		return "", fmt.Errorf("parse local description: %w", err)
	}
	wire, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode local description: %w", err)
	}

	s.mu.Lock()
	s.remote = offer
	s.local = string(wire)
	s.mu.Unlock()
	return string(wire), nil
}

// LocalDescription returns the answer produced by Listen, or "" before it.
func (s *Session) LocalDescription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) RemoteDescription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// WaitForChannel returns the open channel with label, waiting for it if it
// has not opened yet. Only one caller may wait on a given pending label.
func (s *Session) WaitForChannel(ctx context.Context, label string) (*Channel, error) {
	return s.registry.Wait(ctx, label)
}

// Channels streams every inbound channel once it opens. Up to 16 unread
// channels are buffered; later ones are dropped from the stream (not from
// WaitForChannel) until the reader catches up. It is never closed; select on
// Done as well.
func (s *Session) Channels() <-chan *Channel { return s.inbound }

// Done is closed once the session has closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() error {
	var err error
	s.close.Do(func() {
		close(s.done)
		s.registry.Close(ErrSessionClosed)
		s.metrics.Inc(metrics.SessionClosed)
		s.logger.Debug("session closed")
		if s.onClose != nil {
			s.onClose()
		}
		err = s.pc.Close()
	})
	return err
}
