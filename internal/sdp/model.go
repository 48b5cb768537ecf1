package sdp

import (
	"strconv"
	"strings"
)

// ProtocolVersion is the only SDP version defined (the "v=" line).
const ProtocolVersion = 0

// NoSessionName is the placeholder session name for sessions without a
// meaningful name. "s=" must never be empty.
const NoSessionName = " "

const (
	NetworkTypeInternet = "IN"

	AddressTypeIPv4 = "IP4"
	AddressTypeIPv6 = "IP6"
)

// SessionDescription is a complete session description for one negotiation
// round. Media blocks are written in slice order.
type SessionDescription struct {
	Session SessionBase        `json:"session"`
	Timing  SessionTiming      `json:"timing"`
	Media   []MediaDescription `json:"media,omitempty"`
}

// SessionBase holds the session-level fields. Everything except Origin and
// Name is optional; zero values are omitted from the output.
type SessionBase struct {
	Origin        Origin          `json:"origin"`
	Name          string          `json:"name"`
	Info          string          `json:"info,omitempty"`
	URI           string          `json:"uri,omitempty"`
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Connection    *ConnectionData `json:"connection,omitempty"`
	Bandwidth     []Bandwidth     `json:"bandwidth,omitempty"`
	TimeZones     string          `json:"timezones,omitempty"`
	EncryptionKey string          `json:"encryptionKey,omitempty"`
	Attributes    []Attribute     `json:"attributes,omitempty"`
}

// Origin is the "o=" field. Members are always written in protocol order
// regardless of how the value was built.
type Origin struct {
	Username       string `json:"username"`
	SessionID      string `json:"sess-id"`
	SessionVersion string `json:"sess-version"`
	NetworkType    string `json:"nettype"`
	AddressType    string `json:"addrtype"`
	UnicastAddress string `json:"unicast-address"`
}

func (o Origin) String() string {
	return strings.Join([]string{
		o.Username,
		o.SessionID,
		o.SessionVersion,
		o.NetworkType,
		o.AddressType,
		o.UnicastAddress,
	}, " ")
}

// ConnectionData is the "c=" field, at session or media level.
type ConnectionData struct {
	NetworkType string `json:"nettype"`
	AddressType string `json:"addrtype"`
	Address     string `json:"connection-address"`
}

func (c ConnectionData) String() string {
	return strings.Join([]string{c.NetworkType, c.AddressType, c.Address}, " ")
}

type BandwidthType string

const (
	BandwidthConferenceTotal     BandwidthType = "CT"
	BandwidthApplicationSpecific BandwidthType = "AS"
)

// Bandwidth is one "b=" line. Value is in kilobits per second.
type Bandwidth struct {
	Type  BandwidthType `json:"bwtype"`
	Value uint64        `json:"bandwidth"`
}

func (b Bandwidth) String() string {
	return string(b.Type) + ":" + strconv.FormatUint(b.Value, 10)
}

// SessionTiming is the timing block: exactly one "t=" line followed by zero or
// more "r=" lines.
type SessionTiming struct {
	Active  Timing         `json:"active"`
	Repeats []RepeatTiming `json:"repeats,omitempty"`
}

// Timing is the "t=" field. Zero means unbounded, so the zero value is a
// permanent session.
type Timing struct {
	Start uint64 `json:"start-time"`
	Stop  uint64 `json:"stop-time"`
}

func (t Timing) String() string {
	return strconv.FormatUint(t.Start, 10) + " " + strconv.FormatUint(t.Stop, 10)
}

// RepeatTiming is the "r=" field. Durations are kept as written (e.g. "7d",
// "3600").
type RepeatTiming struct {
	Interval       string `json:"repeat-interval"`
	ActiveDuration string `json:"active-duration"`
	Offsets        string `json:"offsets"`
}

func (r RepeatTiming) String() string {
	return strings.Join([]string{r.Interval, r.ActiveDuration, r.Offsets}, " ")
}

type MediaKind string

const (
	MediaAudio       MediaKind = "audio"
	MediaVideo       MediaKind = "video"
	MediaText        MediaKind = "text"
	MediaApplication MediaKind = "application"
	MediaMessage     MediaKind = "message"
)

// Transport protocol tags commonly found in "m=" lines.
const (
	ProtoUDP          = "udp"
	ProtoRTPAVP       = "RTP/AVP"
	ProtoRTPSAVP      = "RTP/SAVP"
	ProtoDTLSSCTP     = "UDP/DTLS/SCTP"
	ProtoRTPSAVPF     = "UDP/TLS/RTP/SAVPF"
	FormatDataChannel = "webrtc-datachannel"
)

// MediaDescription is one media block, starting with its "m=" line.
type MediaDescription struct {
	Name          MediaName       `json:"name"`
	Title         string          `json:"title,omitempty"`
	Connection    *ConnectionData `json:"connection,omitempty"`
	Bandwidth     []Bandwidth     `json:"bandwidth,omitempty"`
	EncryptionKey string          `json:"encryptionKey,omitempty"`
	Attributes    []Attribute     `json:"attributes,omitempty"`
}

// MediaName is the "m=" field. PortCount > 0 writes the port as
// "<port>/<count>".
type MediaName struct {
	Media     MediaKind `json:"media"`
	Port      int       `json:"port"`
	PortCount int       `json:"portCount,omitempty"`
	Protocol  string    `json:"proto"`
	Formats   []string  `json:"fmt"`
}

func (m MediaName) String() string {
	port := strconv.Itoa(m.Port)
	if m.PortCount > 0 {
		port += "/" + strconv.Itoa(m.PortCount)
	}
	parts := []string{string(m.Media), port, m.Protocol}
	parts = append(parts, m.Formats...)
	return strings.Join(parts, " ")
}

// Attribute is one "a=" line. An empty Value makes it a flag attribute
// unless Valued is set, which keeps the property form "a=key:".
type Attribute struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Valued bool   `json:"valued,omitempty"`
}

// Flag returns a property-less attribute such as "sendrecv".
func Flag(key string) Attribute {
	return Attribute{Key: key}
}

// Property returns a "key:value" attribute. An empty value is still written
// with its colon.
func Property(key, value string) Attribute {
	return Attribute{Key: key, Value: value, Valued: value == ""}
}

func (a Attribute) IsFlag() bool {
	return a.Value == "" && !a.Valued
}

func (a Attribute) String() string {
	if a.IsFlag() {
		return a.Key
	}
	return a.Key + ":" + a.Value
}

// Attribute returns the value of the first attribute named key.
func (m MediaDescription) Attribute(key string) (string, bool) {
	return lookupAttribute(m.Attributes, key)
}

// Attribute returns the value of the first session-level attribute named key.
func (s SessionBase) Attribute(key string) (string, bool) {
	return lookupAttribute(s.Attributes, key)
}

func lookupAttribute(attrs []Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
