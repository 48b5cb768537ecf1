// Command rendezvous-demo runs a rendezvous server and an offering client in
// one process: the client connects over HTTP signaling, sends two messages on
// its data channel and the server prints what it receives.
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
	"time"

	"github.com/pterm/pterm"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/rendezvous"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/webrtcpeer"
)

const demoTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	if cfg.LogLevel <= slog.LevelDebug {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	}
	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))

	ctx, cancel := context.WithTimeout(context.Background(), demoTimeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
	pterm.Success.Println("demo complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}
	broker, err := rendezvous.New(rendezvous.Config[*webrtcpeer.Session]{
		NewSession: func(context.Context) (*webrtcpeer.Session, error) {
			return webrtcpeer.NewSession(api, cfg.ICEServers, webrtcpeer.SessionOptions{
				ICEGatheringTimeout: cfg.ICEGatheringTimeout,
				Logger:              logger,
			})
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer broker.Close()

	sig := signaling.NewServer(signaling.Config{
		Broker:          broker,
		Path:            cfg.SignalingPath,
		MaxMessageBytes: cfg.MaxSignalingMessageBytes,
		OffersPerSecond: cfg.SignalingOffersPerSecond,
		Logger:          logger,
	})
	defer sig.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Handler: sig.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = httpSrv.Serve(ln) }()
	defer httpSrv.Close()

	signalingURL := "http://" + ln.Addr().String() + cfg.SignalingPath
	pterm.Info.Printfln("server listening on %s for POST %s", ln.Addr(), cfg.SignalingPath)

	// Queue the accept before the client offers; an offer to an empty queue is
	// rejected.
	intent := broker.Register()

	const wantMessages = 2
	serverErr := make(chan error, 1)
	go func() { serverErr <- serve(ctx, intent, cfg.ChannelLabel, wantMessages) }()

	c := &client.Client{
		API:           api,
		ICEServers:    cfg.ICEServers,
		Label:         cfg.ChannelLabel,
		GatherTimeout: cfg.ICEGatheringTimeout,
		Logger:        logger,
	}
	defer c.Close()
	if err := c.Connect(ctx, signalingURL); err != nil {
		return fmt.Errorf("client connect: %w", err)
	}

	if err := c.SendText("hello world"); err != nil {
		return err
	}
	if err := c.SendText("my time is " + time.Now().Format(time.RFC1123)); err != nil {
		return err
	}

	pterm.DefaultSection.Println("client local description")
	pterm.Println(c.LocalDescription())
	pterm.DefaultSection.Println("client remote description")
	pterm.Println(c.RemoteDescription())

	return <-serverErr
}

func serve(ctx context.Context, intent *rendezvous.Intent[*webrtcpeer.Session], label string, want int) error {
	sess, err := intent.Wait(ctx)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer sess.Close()

	ch, err := sess.WaitForChannel(ctx, label)
	if err != nil {
		return fmt.Errorf("wait for channel %q: %w", label, err)
	}

	pterm.DefaultSection.Println("server local description")
	pterm.Println(sess.LocalDescription())
	pterm.DefaultSection.Println("server remote description")
	pterm.Println(sess.RemoteDescription())

	for got := 0; got < want; got++ {
		select {
		case msg := <-ch.Messages():
			pterm.Success.Printfln("%s server received: %s", time.Now().Format(time.TimeOnly), msg.Data)
		case <-ch.Done():
			return errors.New("data channel closed early")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
