package metrics

import "sync"

// Event names counted by the broker and the signaling transports.
const (
	AcceptRegistered = "accept_registered"
	AcceptCancelled  = "accept_cancelled"

	OfferReceived  = "offer_received"
	OfferMatched   = "offer_matched"
	OfferUnmatched = "offer_unmatched"
	OfferMalformed = "offer_malformed"
	OfferFailed    = "offer_failed"
	OfferLimited   = "offer_rate_limited"

	SessionOpened = "session_opened"
	SessionClosed = "session_closed"
	ChannelOpened = "channel_opened"

	ChannelStreamDropped = "channel_stream_dropped"
	ChannelRejected      = "channel_rejected"

	SignalingWSConnected = "signaling_ws_connected"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]func() int64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]func() int64),
	}
}

// Gauge registers fn to be sampled on every scrape under name.
func (m *Metrics) Gauge(name string, fn func() int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = fn
	m.mu.Unlock()
}

func (m *Metrics) sampleGauges() map[string]int64 {
	m.mu.Lock()
	fns := make(map[string]func() int64, len(m.gauges))
	for k, fn := range m.gauges {
		fns[k] = fn
	}
	m.mu.Unlock()

	out := make(map[string]int64, len(fns))
	for k, fn := range fns {
		out[k] = fn()
	}
	return out
}

// Inc is a no-op on a nil receiver so components can run without metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
