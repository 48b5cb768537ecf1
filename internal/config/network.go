package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Each concurrent rendezvous session holds one ICE UDP port, so tiny ranges
// fail under modest load.
const minWebRTCUDPPortRangeSize = 100

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

func (r UDPPortRange) Size() int { return int(r.Max) - int(r.Min) + 1 }

// networkFlags holds the raw WebRTC socket settings between flag parsing and
// validation.
type networkFlags struct {
	portMin, portMax uint
	listenIP         string
	nat1To1IPs       string
	nat1To1Type      string
}

func (n networkFlags) apply(cfg *Config) error {
	portRange, err := udpPortRange(n.portMin, n.portMax)
	if err != nil {
		return err
	}
	cfg.WebRTCUDPPortRange = portRange

	cfg.WebRTCUDPListenIP = net.ParseIP(strings.TrimSpace(n.listenIP))
	if cfg.WebRTCUDPListenIP == nil {
		return fmt.Errorf("%s/--%s: %q is not an IP", EnvWebRTCUDPListenIP, flagWebRTCUDPListenIP, n.listenIP)
	}

	if strings.TrimSpace(n.nat1To1IPs) != "" {
		ips, err := parseIPList(n.nat1To1IPs)
		if err != nil {
			return fmt.Errorf("%s/--%s: %w", EnvWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, err)
		}
		cfg.WebRTCNAT1To1IPs = ips
	}

	cfg.WebRTCNAT1To1IPCandidateType, err = parseCandidateType(n.nat1To1Type)
	if err != nil {
		return fmt.Errorf("%s/--%s: %w", EnvWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, err)
	}
	return nil
}

func udpPortRange(min, max uint) (*UDPPortRange, error) {
	if min == 0 && max == 0 {
		return nil, nil
	}
	if min == 0 || max == 0 {
		return nil, fmt.Errorf("--%s and --%s must be set together", flagWebRTCUDPPortMin, flagWebRTCUDPPortMax)
	}
	if min > 65535 || max > 65535 {
		return nil, fmt.Errorf("WebRTC UDP ports must be within 1-65535, got %d-%d", min, max)
	}
	if min > max {
		return nil, fmt.Errorf("WebRTC UDP port range %d-%d is inverted", min, max)
	}
	r := &UDPPortRange{Min: uint16(min), Max: uint16(max)}
	if r.Size() < minWebRTCUDPPortRangeSize {
		return nil, fmt.Errorf("WebRTC UDP port range is too small: %d ports, need at least %d", r.Size(), minWebRTCUDPPortRangeSize)
	}
	return r, nil
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("want a port in 1-65535")
	}
	return uint16(v), nil
}

func parseCandidateType(s string) (NAT1To1IPCandidateType, error) {
	switch t := NAT1To1IPCandidateType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", NAT1To1CandidateTypeHost:
		return NAT1To1CandidateTypeHost, nil
	case NAT1To1CandidateTypeSrflx:
		return t, nil
	default:
		return "", fmt.Errorf("candidate type %q is neither host nor srflx", s)
	}
}

// parseIPList normalizes a comma-separated IP list, skipping empty entries.
func parseIPList(s string) ([]string, error) {
	var out []string
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		ip := net.ParseIP(field)
		if ip == nil {
			return nil, fmt.Errorf("%q is not an IP", field)
		}
		out = append(out, ip.String())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no IPs in %q", s)
	}
	return out, nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.IsUnspecified()
}
