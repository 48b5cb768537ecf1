package webrtcpeer

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/config"
)

func TestNewAPIRejectsBadCandidateType(t *testing.T) {
	_, err := NewAPI(config.Config{
		WebRTCNAT1To1IPs:             []string{"203.0.113.7"},
		WebRTCNAT1To1IPCandidateType: "relay",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewAPIAcceptsNetworkSettings(t *testing.T) {
	api, err := NewAPI(config.Config{
		WebRTCUDPPortRange:           &config.UDPPortRange{Min: 40000, Max: 40199},
		WebRTCUDPListenIP:            net.ParseIP("127.0.0.1"),
		WebRTCNAT1To1IPs:             []string{"203.0.113.7"},
		WebRTCNAT1To1IPCandidateType: config.NAT1To1CandidateTypeHost,
	}, WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	if api == nil {
		t.Fatalf("expected api")
	}
}

func TestLoggerFactoryFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: levelTrace}))

	l := LoggerFactory{Logger: logger, Level: slog.LevelWarn}.NewLogger("ice")
	l.Debugf("candidate %d", 1)
	l.Info("gathering")
	l.Warnf("slow %s", "stun")
	l.Error("failed")

	out := buf.String()
	if strings.Contains(out, "candidate 1") || strings.Contains(out, "gathering") {
		t.Fatalf("records below warn were emitted: %s", out)
	}
	if !strings.Contains(out, "slow stun") || !strings.Contains(out, "failed") {
		t.Fatalf("missing warn/error records: %s", out)
	}
	if !strings.Contains(out, "scope=ice") {
		t.Fatalf("missing scope attribute: %s", out)
	}
}

func TestLoggerFactoryTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: levelTrace}))

	l := LoggerFactory{Logger: logger, Level: levelTrace}.NewLogger("sctp")
	l.Trace("tick")
	if !strings.Contains(buf.String(), "tick") {
		t.Fatalf("trace record missing: %s", buf.String())
	}
}

func TestValidateOffer(t *testing.T) {
	valid := "v=0\r\n" +
		"o=- 1 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n"
	if err := ValidateOffer(valid); err != nil {
		t.Fatalf("ValidateOffer(valid): %v", err)
	}

	noMedia := "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	for name, raw := range map[string]string{
		"empty":    "  ",
		"garbage":  "hello",
		"no media": noMedia,
	} {
		if err := ValidateOffer(raw); !errors.Is(err, ErrMalformedOffer) {
			t.Fatalf("%s: err=%v, want %v", name, err, ErrMalformedOffer)
		}
	}
}
