package sdp

import (
	"strconv"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

// Parse decodes SDP wire text with pion's parser and converts the result.
func Parse(raw string) (SessionDescription, error) {
	var parsed pionsdp.SessionDescription
	if err := parsed.UnmarshalString(raw); err != nil {
		return SessionDescription{}, err
	}
	d := FromPion(&parsed)
	markEmptyProperties(&d, raw)
	return d, nil
}

// markEmptyProperties restores "a=key:" lines, which pion parses into the
// same Attribute as the flag "a=key". Attributes are matched to lines by
// position within their block.
func markEmptyProperties(d *SessionDescription, raw string) {
	attrs := d.Session.Attributes
	next, media := 0, -1
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "m="):
			media++
			if media >= len(d.Media) {
				return
			}
			attrs, next = d.Media[media].Attributes, 0
		case strings.HasPrefix(line, "a="):
			if next < len(attrs) && attrs[next].Value == "" && line == "a="+attrs[next].Key+":" {
				attrs[next].Valued = true
			}
			next++
		}
	}
}

// FromPion converts a description produced by github.com/pion/sdp/v3 into
// the local model. Only the first time description is kept.
func FromPion(p *pionsdp.SessionDescription) SessionDescription {
	if p == nil {
		return SessionDescription{}
	}

	d := SessionDescription{
		Session: SessionBase{
			Origin: Origin{
				Username:       p.Origin.Username,
				SessionID:      strconv.FormatUint(p.Origin.SessionID, 10),
				SessionVersion: strconv.FormatUint(p.Origin.SessionVersion, 10),
				NetworkType:    p.Origin.NetworkType,
				AddressType:    p.Origin.AddressType,
				UnicastAddress: p.Origin.UnicastAddress,
			},
			Name:       string(p.SessionName),
			Connection: connectionFromPion(p.ConnectionInformation),
			Bandwidth:  bandwidthFromPion(p.Bandwidth),
			Attributes: attributesFromPion(p.Attributes),
		},
	}
	if d.Session.Name == "" {
		d.Session.Name = NoSessionName
	}
	if p.SessionInformation != nil {
		d.Session.Info = string(*p.SessionInformation)
	}
	if p.URI != nil {
		d.Session.URI = p.URI.String()
	}
	if p.EmailAddress != nil {
		d.Session.Email = string(*p.EmailAddress)
	}
	if p.PhoneNumber != nil {
		d.Session.Phone = string(*p.PhoneNumber)
	}
	if p.EncryptionKey != nil {
		d.Session.EncryptionKey = string(*p.EncryptionKey)
	}
	if len(p.TimeZones) > 0 {
		zones := make([]string, 0, 2*len(p.TimeZones))
		for _, z := range p.TimeZones {
			zones = append(zones, strconv.FormatUint(z.AdjustmentTime, 10), strconv.FormatInt(z.Offset, 10))
		}
		d.Session.TimeZones = strings.Join(zones, " ")
	}

	if len(p.TimeDescriptions) > 0 {
		td := p.TimeDescriptions[0]
		d.Timing.Active = Timing{Start: td.Timing.StartTime, Stop: td.Timing.StopTime}
		for _, r := range td.RepeatTimes {
			offsets := make([]string, 0, len(r.Offsets))
			for _, o := range r.Offsets {
				offsets = append(offsets, strconv.FormatInt(o, 10))
			}
			d.Timing.Repeats = append(d.Timing.Repeats, RepeatTiming{
				Interval:       strconv.FormatInt(r.Interval, 10),
				ActiveDuration: strconv.FormatInt(r.Duration, 10),
				Offsets:        strings.Join(offsets, " "),
			})
		}
	}

	for _, m := range p.MediaDescriptions {
		if m == nil {
			continue
		}
		md := MediaDescription{
			Name: MediaName{
				Media:    MediaKind(m.MediaName.Media),
				Port:     m.MediaName.Port.Value,
				Protocol: strings.Join(m.MediaName.Protos, "/"),
				Formats:  append([]string(nil), m.MediaName.Formats...),
			},
			Connection: connectionFromPion(m.ConnectionInformation),
			Bandwidth:  bandwidthFromPion(m.Bandwidth),
			Attributes: attributesFromPion(m.Attributes),
		}
		if m.MediaName.Port.Range != nil {
			md.Name.PortCount = *m.MediaName.Port.Range
		}
		if m.MediaTitle != nil {
			md.Title = string(*m.MediaTitle)
		}
		if m.EncryptionKey != nil {
			md.EncryptionKey = string(*m.EncryptionKey)
		}
		d.Media = append(d.Media, md)
	}
	return d
}

func connectionFromPion(c *pionsdp.ConnectionInformation) *ConnectionData {
	if c == nil {
		return nil
	}
	out := &ConnectionData{NetworkType: c.NetworkType, AddressType: c.AddressType}
	if c.Address != nil {
		out.Address = c.Address.String()
	}
	return out
}

func bandwidthFromPion(in []pionsdp.Bandwidth) []Bandwidth {
	if len(in) == 0 {
		return nil
	}
	out := make([]Bandwidth, 0, len(in))
	for _, b := range in {
		typ := b.Type
		if b.Experimental {
			typ = "X-" + typ
		}
		out = append(out, Bandwidth{Type: BandwidthType(typ), Value: b.Bandwidth})
	}
	return out
}

func attributesFromPion(in []pionsdp.Attribute) []Attribute {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attribute, 0, len(in))
	for _, a := range in {
		// pion cannot tell "a=key:" from "a=key"; Parse restores the
		// former from the wire text.
		out = append(out, Attribute{Key: a.Key, Value: a.Value})
	}
	return out
}
