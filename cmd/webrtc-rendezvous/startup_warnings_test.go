package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu     *sync.Mutex
	records *[]recordedLog
	attrs  []slog.Attr
	groups []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_DefaultConfigIsQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		ListenAddr:               config.DefaultListenAddr,
		Mode:                     config.ModeDev,
		ICEGatheringTimeout:      config.DefaultICEGatherTimeout,
		AcceptBacklog:            config.DefaultAcceptBacklog,
		MaxSignalingMessageBytes: config.DefaultMaxSignalingMessageBytes,
	})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupWarnings_PublicListen(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:9922", ":9922", "192.0.2.1:9922"} {
		logger, records := newRecordingLogger()
		logStartupSecurityWarnings(logger, config.Config{ListenAddr: addr, Mode: config.ModeDev})

		r, ok := warningCodes(records())["signaling_unauthenticated_public"]
		if !ok {
			t.Fatalf("%s: expected warning_code=signaling_unauthenticated_public, got %#v", addr, records())
		}
		if r.attrs["listen_addr"] != addr {
			t.Fatalf("listen_addr attr = %#v, want %q", r.attrs["listen_addr"], addr)
		}
	}
	for _, addr := range []string{"127.0.0.1:9922", "[::1]:9922", "localhost:9922"} {
		if !isLoopbackListenAddr(addr) {
			t.Fatalf("isLoopbackListenAddr(%q)=false, want true", addr)
		}
	}
}

func TestStartupWarnings_ProdWithoutICEServers(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, config.Config{ListenAddr: config.DefaultListenAddr, Mode: config.ModeProd})

	if _, ok := warningCodes(records())["no_ice_servers_in_prod"]; !ok {
		t.Fatalf("expected warning_code=no_ice_servers_in_prod, got %#v", records())
	}
}

func TestStartupWarnings_TURNCredentialsExposed(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, config.Config{
		ListenAddr: config.DefaultListenAddr,
		Mode:       config.ModeDev,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
		},
	})

	if _, ok := warningCodes(records())["turn_credentials_exposed"]; !ok {
		t.Fatalf("expected warning_code=turn_credentials_exposed, got %#v", records())
	}
}

func TestStartupWarnings_LargeLimits(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, config.Config{
		ListenAddr:               config.DefaultListenAddr,
		Mode:                     config.ModeDev,
		MaxSignalingMessageBytes: 4 << 20,
		ICEGatheringTimeout:      time.Minute,
		AcceptBacklog:            1000,
	})

	got := warningCodes(records())
	for _, code := range []string{"max_signaling_message_large", "ice_gathering_timeout_large", "accept_backlog_large"} {
		if _, ok := got[code]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", code, records())
		}
	}
	if got["accept_backlog_large"].attrs["accept_backlog"] != int64(1000) {
		t.Fatalf("accept_backlog attr = %#v, want 1000", got["accept_backlog_large"].attrs["accept_backlog"])
	}
}
