package main

import (
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	// Signaling has no authentication: anyone who can reach the listener can
	// claim a queued accept.
	if !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: signaling endpoint is unauthenticated and listens beyond loopback",
			"warning_code", "signaling_unauthenticated_public",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 && len(cfg.WebRTCNAT1To1IPs) == 0 {
		logger.Warn("startup warning: no ICE servers or NAT 1:1 IPs configured while --mode=prod (peers behind NAT may fail to connect)",
			"warning_code", "no_ice_servers_in_prod",
			"mode", cfg.Mode,
		)
	}

	if hasTURNCredentials(cfg) {
		logger.Warn("startup security warning: TURN credentials are served unauthenticated by GET /webrtc/ice",
			"warning_code", "turn_credentials_exposed",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-offer allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.ICEGatheringTimeout > 30*time.Second {
		logger.Warn("startup warning: RENDEZVOUS_ICE_GATHERING_TIMEOUT is very large (each offer holds its HTTP request open for up to this long)",
			"warning_code", "ice_gathering_timeout_large",
			"ice_gathering_timeout", cfg.ICEGatheringTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.AcceptBacklog > 64 {
		logger.Warn("startup security warning: RENDEZVOUS_ACCEPT_BACKLOG is very large (each queued accept lets an unauthenticated offer allocate a PeerConnection)",
			"warning_code", "accept_backlog_large",
			"accept_backlog", cfg.AcceptBacklog,
			"mode", cfg.Mode,
		)
	}
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func hasTURNCredentials(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		if server.Username == "" {
			continue
		}
		for _, u := range server.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}
