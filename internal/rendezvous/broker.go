// Package rendezvous pairs local intents to accept a peer connection with
// inbound offers, strictly in registration order.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
)

var (
	ErrUnmatchedOffer  = errors.New("rendezvous: no pending accept for offer")
	ErrBrokerClosed    = errors.New("rendezvous: broker closed")
	ErrIntentCancelled = errors.New("rendezvous: accept cancelled")
)

// Session is the transport session produced for each matched offer.
type Session interface {
	// Listen applies the remote offer and returns the local answer.
	Listen(ctx context.Context, offer string) (answer string, err error)
	Close() error
}

// Factory creates a fresh session for one matched offer.
type Factory[S Session] func(ctx context.Context) (S, error)

type Config[S Session] struct {
	NewSession Factory[S]
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Broker holds an unbounded FIFO queue of accept intents. Each inbound offer
// pops the head intent; an offer arriving to an empty queue is rejected with
// ErrUnmatchedOffer.
type Broker[S Session] struct {
	newSession Factory[S]
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	queue  []*Intent[S]
	nextID uint64
	closed bool
}

func New[S Session](cfg Config[S]) (*Broker[S], error) {
	if cfg.NewSession == nil {
		return nil, errors.New("rendezvous: NewSession is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker[S]{
		newSession: cfg.NewSession,
		logger:     logger,
		metrics:    cfg.Metrics,
	}
	cfg.Metrics.Gauge("pending_accepts", func() int64 { return int64(b.Pending()) })
	return b, nil
}

type intentState int

const (
	intentQueued intentState = iota
	intentMatched
	intentResolved
	intentCancelled
)

// Intent is one registered accept. It resolves once an offer has been
// matched to it and its session has produced an answer.
type Intent[S Session] struct {
	id   uint64
	b    *Broker[S]
	done chan struct{}

	// Guarded by b.mu.
	state   intentState
	session S
	err     error
}

func (in *Intent[S]) ID() uint64 { return in.id }

// Done is closed once the intent is resolved, failed or cancelled.
func (in *Intent[S]) Done() <-chan struct{} { return in.done }

// Wait blocks until the intent resolves. If ctx ends first the intent is
// cancelled: a queued intent is withdrawn so it cannot consume an offer, and
// a session still being set up is closed once ready.
func (in *Intent[S]) Wait(ctx context.Context) (S, error) {
	select {
	case <-in.done:
	case <-ctx.Done():
		in.Cancel()
		<-in.done
	}

	in.b.mu.Lock()
	s, err, state := in.session, in.err, in.state
	in.b.mu.Unlock()

	if state == intentCancelled && ctx.Err() != nil {
		return s, ctx.Err()
	}
	return s, err
}

// Cancel withdraws the intent. It is a no-op once the intent has resolved.
func (in *Intent[S]) Cancel() {
	b := in.b
	b.mu.Lock()
	defer b.mu.Unlock()

	switch in.state {
	case intentQueued:
		for i, q := range b.queue {
			if q == in {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
				break
			}
		}
	case intentMatched:
	default:
		return
	}
	in.state = intentCancelled
	in.err = ErrIntentCancelled
	close(in.done)
	b.metrics.Inc(metrics.AcceptCancelled)
	b.logger.Debug("accept cancelled", "intent", in.id, "pending", len(b.queue))
}

// resolve completes a matched intent. It reports false if the intent was
// cancelled while its session was being set up.
func (in *Intent[S]) resolve(s S, err error) bool {
	in.b.mu.Lock()
	defer in.b.mu.Unlock()
	if in.state != intentMatched {
		return false
	}
	in.state = intentResolved
	in.session, in.err = s, err
	close(in.done)
	return true
}

// Register appends a new accept intent to the queue.
func (b *Broker[S]) Register() *Intent[S] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	in := &Intent[S]{id: b.nextID, b: b, done: make(chan struct{})}
	if b.closed {
		in.state = intentResolved
		in.err = ErrBrokerClosed
		close(in.done)
		return in
	}
	b.queue = append(b.queue, in)
	b.metrics.Inc(metrics.AcceptRegistered)
	b.logger.Debug("accept registered", "intent", in.id, "pending", len(b.queue))
	return in
}

// Accept registers an intent and waits for it to be matched.
func (b *Broker[S]) Accept(ctx context.Context) (S, error) {
	return b.Register().Wait(ctx)
}

// HandleOffer matches offer with the oldest pending intent, sets up its
// session and returns the answer. Setup failures are reported both to the
// caller and to the matched intent.
func (b *Broker[S]) HandleOffer(ctx context.Context, offer string) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrBrokerClosed
	}
	if len(b.queue) == 0 {
		b.mu.Unlock()
		b.metrics.Inc(metrics.OfferUnmatched)
		b.logger.Warn("offer rejected", "err", ErrUnmatchedOffer)
		return "", ErrUnmatchedOffer
	}
	in := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	in.state = intentMatched
	pending := len(b.queue)
	b.mu.Unlock()

	b.logger.Debug("offer matched", "intent", in.id, "pending", pending)

	var zero S
	s, err := b.newSession(ctx)
	if err != nil {
		err = fmt.Errorf("rendezvous: create session: %w", err)
		in.resolve(zero, err)
		b.metrics.Inc(metrics.OfferFailed)
		return "", err
	}

	answer, err := s.Listen(ctx, offer)
	if err != nil {
		_ = s.Close()
		err = fmt.Errorf("rendezvous: listen: %w", err)
		in.resolve(zero, err)
		b.metrics.Inc(metrics.OfferFailed)
		return "", err
	}

	if !in.resolve(s, nil) {
		_ = s.Close()
		b.metrics.Inc(metrics.OfferFailed)
		return "", ErrIntentCancelled
	}
	b.metrics.Inc(metrics.OfferMatched)
	b.logger.Info("offer answered", "intent", in.id)
	return answer, nil
}

// Pending returns the number of queued intents.
func (b *Broker[S]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Err reports ErrBrokerClosed once Close has run. It backs the daemon's
// readiness check.
func (b *Broker[S]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}

// Close fails every queued intent with ErrBrokerClosed and rejects later
// registrations and offers. Sessions already handed out are not touched.
func (b *Broker[S]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, in := range b.queue {
		in.state = intentResolved
		in.err = ErrBrokerClosed
		close(in.done)
	}
	b.queue = nil
}
