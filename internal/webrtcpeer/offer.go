package webrtcpeer

import (
	"errors"
	"fmt"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

var ErrMalformedOffer = errors.New("webrtcpeer: malformed offer")

// ValidateOffer checks that raw is parseable SDP carrying at least one media
// section. It does not check that the offer can be negotiated.
func ValidateOffer(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty sdp", ErrMalformedOffer)
	}
	var desc pionsdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOffer, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrMalformedOffer)
	}
	return nil
}
