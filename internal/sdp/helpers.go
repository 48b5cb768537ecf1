package sdp

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

// NewOrigin returns an origin for a freshly created session: no user
// concept ("-"), a random numeric session id and session version 2.
func NewOrigin(addressType, address string) Origin {
	return Origin{
		Username:       "-",
		SessionID:      strconv.Itoa(rand.IntN(999999)),
		SessionVersion: "2",
		NetworkType:    NetworkTypeInternet,
		AddressType:    addressType,
		UnicastAddress: address,
	}
}

// DefaultBandwidth is the application-specific limit used for data-only
// sessions.
func DefaultBandwidth() Bandwidth {
	return Bandwidth{Type: BandwidthApplicationSpecific, Value: 30}
}

// OpenEnded returns a timing block for a session with no start or stop time.
func OpenEnded() SessionTiming {
	return SessionTiming{Active: Timing{Start: 0, Stop: 0}}
}

type CandidateComponent int

const (
	ComponentRTP  CandidateComponent = 1
	ComponentRTCP CandidateComponent = 2
)

// Candidate describes one ICE candidate for an "a=candidate" attribute.
type Candidate struct {
	Foundation       string
	Component        CandidateComponent
	Protocol         string
	Priority         uint32
	Address          string
	Port             int
	Type             string
	TCPType          string
	UsernameFragment string
	NetworkID        int
	NetworkCost      int
}

// String returns the attribute value (without the "candidate:" key).
func (c Candidate) String() string {
	component := c.Component
	if component == 0 {
		component = ComponentRTP
	}
	parts := []string{
		c.Foundation,
		strconv.Itoa(int(component)),
		c.Protocol,
		strconv.FormatUint(uint64(c.Priority), 10),
		c.Address,
		strconv.Itoa(c.Port),
		"typ", c.Type,
	}
	if c.TCPType != "" {
		parts = append(parts, "tcptype", c.TCPType)
	}
	parts = append(parts, "generation", "0")
	if c.UsernameFragment != "" {
		parts = append(parts, "ufrag", c.UsernameFragment)
	}
	parts = append(parts, "network-id", strconv.Itoa(c.NetworkID))
	if c.NetworkCost != 0 {
		parts = append(parts, "network-cost", strconv.Itoa(c.NetworkCost))
	}
	return strings.Join(parts, " ")
}

func (c Candidate) Attribute() Attribute {
	return Property("candidate", c.String())
}

// DataChannelSession returns a minimal description carrying a single SCTP
// data channel media block, as offered by browsers for data-only sessions.
func DataChannelSession(origin Origin, ufrag, pwd, fingerprint string) SessionDescription {
	return SessionDescription{
		Session: SessionBase{
			Origin:     origin,
			Name:       NoSessionName,
			Bandwidth:  []Bandwidth{DefaultBandwidth()},
			Attributes: []Attribute{Property("group", "BUNDLE 0")},
		},
		Timing: OpenEnded(),
		Media: []MediaDescription{{
			Name: MediaName{
				Media:    MediaApplication,
				Port:     9,
				Protocol: ProtoDTLSSCTP,
				Formats:  []string{FormatDataChannel},
			},
			Connection: &ConnectionData{
				NetworkType: NetworkTypeInternet,
				AddressType: AddressTypeIPv4,
				Address:     "0.0.0.0",
			},
			Attributes: []Attribute{
				Property("ice-ufrag", ufrag),
				Property("ice-pwd", pwd),
				Property("fingerprint", fingerprint),
				Property("setup", "actpass"),
				Property("mid", "0"),
				Property("sctp-port", "5000"),
			},
		}},
	}
}
