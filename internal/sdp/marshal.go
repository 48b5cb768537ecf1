package sdp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptySessionName = errors.New("sdp: session name must not be empty")
	ErrLineBreak        = errors.New("sdp: value contains a line break")
)

// field maps one logical field of a block to its single-letter wire tag.
// values returns one entry per line to emit; nil emits nothing.
type field[T any] struct {
	name   string
	tag    byte
	values func(*T) []string
}

// timingSlot marks the position of the timing block inside sessionFields.
const timingSlot byte = 0

var sessionFields = []field[SessionBase]{
	{"version", 'v', func(*SessionBase) []string { return []string{strconv.Itoa(ProtocolVersion)} }},
	{"origin", 'o', func(s *SessionBase) []string { return []string{s.Origin.String()} }},
	{"name", 's', func(s *SessionBase) []string { return []string{s.Name} }},
	{"info", 'i', func(s *SessionBase) []string { return scalar(s.Info) }},
	{"uri", 'u', func(s *SessionBase) []string { return scalar(s.URI) }},
	{"email", 'e', func(s *SessionBase) []string { return scalar(s.Email) }},
	{"phone", 'p', func(s *SessionBase) []string { return scalar(s.Phone) }},
	{"connection", 'c', func(s *SessionBase) []string { return optional(s.Connection) }},
	{"bandwidth", 'b', func(s *SessionBase) []string { return each(s.Bandwidth) }},
	{"timing", timingSlot, nil},
	{"timezones", 'z', func(s *SessionBase) []string { return scalar(s.TimeZones) }},
	{"encryptionKey", 'k', func(s *SessionBase) []string { return scalar(s.EncryptionKey) }},
	{"attributes", 'a', func(s *SessionBase) []string { return each(s.Attributes) }},
}

var timingFields = []field[SessionTiming]{
	{"active", 't', func(t *SessionTiming) []string { return []string{t.Active.String()} }},
	{"repeats", 'r', func(t *SessionTiming) []string { return each(t.Repeats) }},
}

var mediaFields = []field[MediaDescription]{
	{"name", 'm', func(m *MediaDescription) []string { return []string{m.Name.String()} }},
	{"title", 'i', func(m *MediaDescription) []string { return scalar(m.Title) }},
	{"connection", 'c', func(m *MediaDescription) []string { return optional(m.Connection) }},
	{"bandwidth", 'b', func(m *MediaDescription) []string { return each(m.Bandwidth) }},
	{"encryptionKey", 'k', func(m *MediaDescription) []string { return scalar(m.EncryptionKey) }},
	{"attributes", 'a', func(m *MediaDescription) []string { return each(m.Attributes) }},
}

func scalar(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func optional[T fmt.Stringer](v *T) []string {
	if v == nil {
		return nil
	}
	return []string{(*v).String()}
}

func each[T fmt.Stringer](vs []T) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) line(name string, tag byte, value string) {
	if e.err != nil {
		return
	}
	if strings.ContainsAny(value, "\r\n") {
		e.err = fmt.Errorf("%w: %s", ErrLineBreak, name)
		return
	}
	e.buf.WriteByte(tag)
	e.buf.WriteByte('=')
	e.buf.WriteString(value)
	e.buf.WriteString("\r\n")
}

func writeFields[T any](e *encoder, fields []field[T], v *T) {
	for _, f := range fields {
		for _, value := range f.values(v) {
			e.line(f.name, f.tag, value)
		}
	}
}

// Marshal encodes d as SDP wire text with CRLF line endings. Session lines
// come first with the timing block at its RFC 4566 position, followed by
// every media block in order.
func (d SessionDescription) Marshal() ([]byte, error) {
	if d.Session.Name == "" {
		return nil, ErrEmptySessionName
	}

	var e encoder
	for _, f := range sessionFields {
		if f.tag == timingSlot {
			writeFields(&e, timingFields, &d.Timing)
			continue
		}
		for _, value := range f.values(&d.Session) {
			e.line(f.name, f.tag, value)
		}
	}
	for i := range d.Media {
		writeFields(&e, mediaFields, &d.Media[i])
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Bytes(), nil
}

// String returns the wire text, or an empty string if d cannot be encoded.
func (d SessionDescription) String() string {
	b, err := d.Marshal()
	if err != nil {
		return ""
	}
	return string(b)
}
