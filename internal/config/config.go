// Package config loads the rendezvous daemon's settings. Every setting has a
// flag; environment variables supply the flag defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr          = "RENDEZVOUS_LISTEN_ADDR"
	envVarSignalingPath       = "RENDEZVOUS_SIGNALING_PATH"
	envVarMode                = "RENDEZVOUS_MODE"
	envVarLogFormat           = "RENDEZVOUS_LOG_FORMAT"
	envVarLogLevel            = "RENDEZVOUS_LOG_LEVEL"
	envVarPionLogLevel        = "RENDEZVOUS_PION_LOG_LEVEL"
	envVarShutdownTimeout     = "RENDEZVOUS_SHUTDOWN_TIMEOUT"
	envVarICEGatheringTimeout = "RENDEZVOUS_ICE_GATHERING_TIMEOUT"
	envVarChannelLabel        = "RENDEZVOUS_CHANNEL_LABEL"
	envVarAcceptBacklog       = "RENDEZVOUS_ACCEPT_BACKLOG"

	envVarMaxSignalingMessageBytes = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarSignalingOffersPerSecond = "RENDEZVOUS_SIGNALING_OFFERS_PER_SECOND"
)

const (
	EnvWebRTCUDPPortMin             = "WEBRTC_UDP_PORT_MIN"
	EnvWebRTCUDPPortMax             = "WEBRTC_UDP_PORT_MAX"
	EnvWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	EnvWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	EnvWebRTCUDPListenIP            = "WEBRTC_UDP_LISTEN_IP"
)

const (
	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
)

const (
	DefaultListenAddr               = "127.0.0.1:9922"
	DefaultSignalingPath            = "/pre_connect"
	DefaultShutdown                 = 15 * time.Second
	DefaultICEGatherTimeout         = 2 * time.Second
	DefaultChannelLabel             = "sendChannel"
	DefaultAcceptBacklog            = 1
	DefaultMaxSignalingMessageBytes = int64(64 * 1024)
	DefaultSignalingOffersPerSecond = 5.0
	DefaultWebRTCUDPListenIP        = "0.0.0.0"
	defaultPionLogLevel             = "warn"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	SignalingPath   string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	PionLogLevel    slog.Level
	ShutdownTimeout time.Duration

	// ICEGatheringTimeout bounds how long an answer waits for candidate
	// gathering before it is returned with whatever has been gathered.
	ICEGatheringTimeout time.Duration

	ChannelLabel             string
	AcceptBacklog            int
	MaxSignalingMessageBytes int64

	// SignalingOffersPerSecond caps offers per client IP across both
	// signaling transports. 0 disables the limit.
	SignalingOffersPerSecond float64

	ICEServers []webrtc.ICEServer

	WebRTCUDPPortRange           *UDPPortRange
	WebRTCUDPListenIP            net.IP
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	env := &envReader{lookup: lookup}
	cfg := Config{
		ListenAddr:               env.str(envVarListenAddr, DefaultListenAddr),
		SignalingPath:            env.str(envVarSignalingPath, DefaultSignalingPath),
		ShutdownTimeout:          env.duration(envVarShutdownTimeout, DefaultShutdown),
		ICEGatheringTimeout:      env.duration(envVarICEGatheringTimeout, DefaultICEGatherTimeout),
		ChannelLabel:             env.str(envVarChannelLabel, DefaultChannelLabel),
		AcceptBacklog:            env.int(envVarAcceptBacklog, DefaultAcceptBacklog),
		MaxSignalingMessageBytes: env.int64(envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes),
		SignalingOffersPerSecond: env.float(envVarSignalingOffersPerSecond, DefaultSignalingOffersPerSecond),
	}
	var (
		mode      = env.str(envVarMode, string(ModeDev))
		logFormat = env.str(envVarLogFormat, "")
		logLevel  = env.str(envVarLogLevel, "")
		pionLevel = env.str(envVarPionLogLevel, defaultPionLogLevel)
		ice       = iceFlags{
			json:           env.str(envICEServersJSON, ""),
			stunURLs:       env.str(envStunURLs, ""),
			turnURLs:       env.str(envTurnURLs, ""),
			turnUsername:   env.str(envTurnUsername, ""),
			turnCredential: env.str(envTurnCredential, ""),
		}
		network = networkFlags{
			portMin:     env.port(EnvWebRTCUDPPortMin),
			portMax:     env.port(EnvWebRTCUDPPortMax),
			listenIP:    env.str(EnvWebRTCUDPListenIP, DefaultWebRTCUDPListenIP),
			nat1To1IPs:  env.str(EnvWebRTCNAT1To1IPs, ""),
			nat1To1Type: env.str(EnvWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost)),
		}
	)
	if env.err != nil {
		return Config{}, env.err
	}

	fs := flag.NewFlagSet("webrtc-rendezvous", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address for signaling and health routes (env "+envVarListenAddr+")")
	fs.StringVar(&cfg.SignalingPath, "signaling-path", cfg.SignalingPath, "Path accepting offers via POST, and via WebSocket at <path>/ws (env "+envVarSignalingPath+")")
	fs.StringVar(&mode, "mode", mode, "dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormat, "log-format", logFormat, "text or json; defaults to json in prod, text in dev (env "+envVarLogFormat+")")
	fs.StringVar(&logLevel, "log-level", logLevel, "debug, info, warn or error; defaults to info in prod, debug in dev (env "+envVarLogLevel+")")
	fs.StringVar(&pionLevel, "pion-log-level", pionLevel, "Level for pion/webrtc internals (env "+envVarPionLogLevel+")")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "How long open sessions get to finish after SIGTERM (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&cfg.ICEGatheringTimeout, "ice-gather-timeout", cfg.ICEGatheringTimeout, "Max wait for ICE gathering before an answer goes out (env "+envVarICEGatheringTimeout+")")
	fs.StringVar(&cfg.ChannelLabel, "channel-label", cfg.ChannelLabel, "Data channel label the daemon waits for on each session (env "+envVarChannelLabel+")")
	fs.IntVar(&cfg.AcceptBacklog, "accept-backlog", cfg.AcceptBacklog, "Accept intents kept queued for inbound offers (env "+envVarAcceptBacklog+")")
	fs.Int64Var(&cfg.MaxSignalingMessageBytes, "max-signaling-message-bytes", cfg.MaxSignalingMessageBytes, "Largest accepted offer body or WebSocket message (env "+envVarMaxSignalingMessageBytes+")")
	fs.Float64Var(&cfg.SignalingOffersPerSecond, "signaling-offers-per-second", cfg.SignalingOffersPerSecond, "Offers per second per client IP, 0 = unlimited (env "+envVarSignalingOffersPerSecond+")")
	ice.register(fs)

	fs.UintVar(&network.portMin, flagWebRTCUDPPortMin, network.portMin, "Lowest ICE UDP port, 0 = any (env "+EnvWebRTCUDPPortMin+")")
	fs.UintVar(&network.portMax, flagWebRTCUDPPortMax, network.portMax, "Highest ICE UDP port, 0 = any (env "+EnvWebRTCUDPPortMax+")")
	fs.StringVar(&network.listenIP, flagWebRTCUDPListenIP, network.listenIP, "Local IP for ICE UDP sockets (env "+EnvWebRTCUDPListenIP+")")
	fs.StringVar(&network.nat1To1IPs, flagWebRTCNAT1To1IPs, network.nat1To1IPs, "Public IPs advertised in answers, comma-separated (env "+EnvWebRTCNAT1To1IPs+")")
	fs.StringVar(&network.nat1To1Type, flagWebRTCNAT1To1IPCandidateType, network.nat1To1Type, "host or srflx candidates for the NAT 1:1 IPs (env "+EnvWebRTCNAT1To1IPCandidateType+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var err error
	if cfg.Mode, err = parseMode(mode); err != nil {
		return Config{}, err
	}
	if logFormat == "" {
		logFormat = defaultLogFormat(cfg.Mode)
	}
	if cfg.LogFormat, err = parseLogFormat(logFormat); err != nil {
		return Config{}, err
	}
	if logLevel == "" {
		logLevel = defaultLogLevel(cfg.Mode)
	}
	if cfg.LogLevel, err = parseLogLevel(logLevel); err != nil {
		return Config{}, err
	}
	if cfg.PionLogLevel, err = parseLogLevel(pionLevel); err != nil {
		return Config{}, fmt.Errorf("%s/--pion-log-level: %w", envVarPionLogLevel, err)
	}

	cfg.SignalingPath = strings.TrimSpace(cfg.SignalingPath)
	cfg.ChannelLabel = strings.TrimSpace(cfg.ChannelLabel)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if err := network.apply(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.ICEServers, err = ice.servers(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("--listen-addr must not be empty")
	case !strings.HasPrefix(c.SignalingPath, "/") || strings.HasSuffix(c.SignalingPath, "/"):
		return fmt.Errorf("%s/--signaling-path %q must start with / and not end with /", envVarSignalingPath, c.SignalingPath)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	case c.ICEGatheringTimeout <= 0:
		return fmt.Errorf("%s/--ice-gather-timeout must be > 0", envVarICEGatheringTimeout)
	case c.ChannelLabel == "":
		return fmt.Errorf("%s/--channel-label must not be empty", envVarChannelLabel)
	case c.AcceptBacklog <= 0:
		return fmt.Errorf("%s/--accept-backlog must be > 0", envVarAcceptBacklog)
	case c.MaxSignalingMessageBytes <= 0:
		return fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	case c.SignalingOffersPerSecond < 0:
		return fmt.Errorf("%s/--signaling-offers-per-second must be >= 0", envVarSignalingOffersPerSecond)
	}
	return nil
}

// NewLogger builds the daemon's stdout logger.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	switch cfg.LogFormat {
	case LogFormatText:
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
}

func defaultLogFormat(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevel(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev", "development":
		return ModeDev, nil
	case "prod", "production":
		return ModeProd, nil
	}
	return "", fmt.Errorf("%s/--mode %q: want dev or prod", envVarMode, raw)
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case LogFormatText, LogFormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("%s/--log-format %q: want text or json", envVarLogFormat, raw)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log level %q: want debug, info, warn or error", raw)
}
