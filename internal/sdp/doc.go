// Package sdp models a session description (RFC 4566) as plain Go values and
// serializes it to the line-oriented wire text consumed by WebRTC stacks.
//
// Encoding is one-directional. Descriptions received from a peer are parsed by
// github.com/pion/sdp/v3 and converted with FromPion.
package sdp
