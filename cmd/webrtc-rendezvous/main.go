package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/rendezvous"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Construct the WebRTC API early so misconfigurations are caught on startup.
	// No sockets are opened until the first PeerConnection.
	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.WithLogger(logger))
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting webrtc-rendezvous",
		"listen_addr", cfg.ListenAddr,
		"signaling_path", cfg.SignalingPath,
		"mode", cfg.Mode,
		"channel_label", cfg.ChannelLabel,
		"accept_backlog", cfg.AcceptBacklog,
		"ice_servers", len(cfg.ICEServers),
		"ice_gathering_timeout", cfg.ICEGatheringTimeout,
	)
	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()
	broker, err := rendezvous.New(rendezvous.Config[*webrtcpeer.Session]{
		NewSession: func(context.Context) (*webrtcpeer.Session, error) {
			return webrtcpeer.NewSession(api, cfg.ICEServers, webrtcpeer.SessionOptions{
				ICEGatheringTimeout: cfg.ICEGatheringTimeout,
				Logger:              logger,
				Metrics:             m,
			})
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Error("failed to create rendezvous broker", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(httpserver.Options{
		Config:  cfg,
		Logger:  logger,
		Build:   httpserver.BuildInfo{Commit: commit, BuildTime: builtAt},
		Metrics: m,
		Ready:   broker.Err,
	})
	sig := signaling.NewServer(signaling.Config{
		Broker:          broker,
		Path:            cfg.SignalingPath,
		MaxMessageBytes: cfg.MaxSignalingMessageBytes,
		OffersPerSecond: cfg.SignalingOffersPerSecond,
		Logger:          logger,
		Metrics:         m,
	})
	sig.RegisterRoutes(srv.Mux())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()
	acc := &acceptor{broker: broker, label: cfg.ChannelLabel, logger: logger, metrics: m}
	acc.start(acceptCtx, cfg.AcceptBacklog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopTakingOffers(srv, sig, broker)
		cancelAccept()
		acc.wait()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopTakingOffers(srv, sig, broker)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	cancelAccept()

	done := make(chan struct{})
	go func() {
		acc.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("sessions still open at shutdown deadline")
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// stopTakingOffers reports unready before offers start failing, then closes
// the broker and signaling WebSockets. Sessions already handed out survive.
func stopTakingOffers(srv *httpserver.Server, sig *signaling.Server, broker *rendezvous.Broker[*webrtcpeer.Session]) {
	srv.Drain()
	broker.Close()
	sig.Close()
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
