package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/webrtcpeer"
)

const (
	typeOffer  = "offer"
	typeAnswer = "answer"
	typeError  = "error"
)

var errMalformedOffer = errors.New("signaling: malformed offer")

// SessionDescription is the browser RTCSessionDescriptionInit shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type offerEnvelope struct {
	SDP SessionDescription `json:"sdp"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsReply is one reply on the WebSocket transport: an answer, or an error
// for the offer in the same position.
type wsReply struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// parseOffer accepts {"type":"offer","sdp":"..."} or {"sdp":{...}} and
// returns the SDP text once it parses.
func parseOffer(body []byte) (string, error) {
	var desc SessionDescription
	var env offerEnvelope
	descErr := decodeStrictJSON(body, &desc)
	if descErr != nil {
		if envErr := decodeStrictJSON(body, &env); envErr != nil {
			return "", fmt.Errorf("%w: expected {\"type\":\"offer\",\"sdp\":...} or {\"sdp\":{...}}: %w", errMalformedOffer, errors.Join(descErr, envErr))
		}
		desc = env.SDP
	}

	if desc.Type != typeOffer {
		return "", fmt.Errorf("%w: type must be %q (got %q)", errMalformedOffer, typeOffer, desc.Type)
	}
	if err := webrtcpeer.ValidateOffer(desc.SDP); err != nil {
		return "", fmt.Errorf("%w: %w", errMalformedOffer, err)
	}
	return desc.SDP, nil
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
