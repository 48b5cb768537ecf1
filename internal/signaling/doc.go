// Package signaling carries offers from remote peers into a rendezvous broker
// and returns the answers, over plain HTTP and over a WebSocket that accepts
// several offers in sequence.
package signaling
