package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/rendezvous"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/webrtcpeer"
)

const maxLoggedMessageChars = 256

// acceptor keeps a fixed number of accept intents queued on the broker and
// serves each matched session until it closes.
type acceptor struct {
	broker *rendezvous.Broker[*webrtcpeer.Session]
	label   string
	logger  *slog.Logger
	metrics *metrics.Metrics

	// onMessage, if set, sees every inbound message after it is logged.
	onMessage func(sessionID string, msg webrtcpeer.Message)

	wg sync.WaitGroup
}

func (a *acceptor) start(ctx context.Context, backlog int) {
	for i := 0; i < backlog; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.run(ctx)
		}()
	}
}

// wait blocks until every accept loop and session handler has returned.
func (a *acceptor) wait() { a.wg.Wait() }

func (a *acceptor) run(ctx context.Context) {
	for {
		sess, err := a.broker.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, rendezvous.ErrBrokerClosed) {
				return
			}
			a.logger.Warn("accept failed", "err", err)
			continue
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.serve(ctx, sess)
		}()
	}
}

func (a *acceptor) serve(ctx context.Context, sess *webrtcpeer.Session) {
	defer sess.Close()
	logger := a.logger.With("session_id", sess.ID())

	logger.Debug("session local description", "sdp", sess.LocalDescription())
	logger.Debug("session remote description", "sdp", sess.RemoteDescription())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.rejectOtherChannels(ctx, sess, logger)
	}()

	ch, err := sess.WaitForChannel(ctx, a.label)
	if err != nil {
		if !errors.Is(err, webrtcpeer.ErrSessionClosed) && ctx.Err() == nil {
			logger.Warn("waiting for data channel failed", "label", a.label, "err", err)
		}
		return
	}
	logger.Info("data channel open", "label", ch.Label())

	for {
		select {
		case msg := <-ch.Messages():
			logMessage(logger, msg)
			if a.onMessage != nil {
				a.onMessage(sess.ID(), msg)
			}
		case <-ch.Done():
			logger.Info("data channel closed", "label", ch.Label())
			return
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// rejectOtherChannels closes every inbound channel not labelled a.label, so
// nothing buffers messages nobody reads.
func (a *acceptor) rejectOtherChannels(ctx context.Context, sess *webrtcpeer.Session, logger *slog.Logger) {
	for {
		select {
		case ch := <-sess.Channels():
			if ch.Label() == a.label {
				continue
			}
			a.metrics.Inc(metrics.ChannelRejected)
			logger.Warn("closing unexpected data channel", "label", ch.Label(), "want", a.label)
			_ = ch.Close()
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func logMessage(logger *slog.Logger, msg webrtcpeer.Message) {
	if !msg.IsString || !utf8.Valid(msg.Data) {
		logger.Info("received message", "bytes", len(msg.Data), "binary", true)
		return
	}
	text := string(msg.Data)
	if utf8.RuneCountInString(text) > maxLoggedMessageChars {
		text = string([]rune(text)[:maxLoggedMessageChars]) + "…"
	}
	logger.Info("received message", "bytes", len(msg.Data), "text", text)
}
