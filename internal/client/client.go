// Package client is the offering side of a rendezvous: it opens a data
// channel, sends the offer to a signaling endpoint and applies the answer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/webrtcpeer"
)

const (
	DefaultLabel         = "sendChannel"
	defaultGatherTimeout = 2 * time.Second
	maxAnswerBytes       = 1 << 20
	wsWriteWait          = 1 * time.Second
)

var (
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotConnected     = errors.New("client: not connected")
)

// SignalingError is a rejection from the signaling endpoint.
type SignalingError struct {
	// Status is the HTTP status, or 0 when the rejection came over WebSocket.
	Status  int
	Code    string
	Message string
}

func (e *SignalingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("signaling rejected offer (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("signaling rejected offer (%s): %s", e.Code, e.Message)
}

type sessionDescription struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client connects once. The zero value uses a default pion API, the
// "sendChannel" label and http.DefaultClient.
type Client struct {
	API           *webrtc.API
	ICEServers    []webrtc.ICEServer
	Label         string
	HTTPClient    *http.Client
	GatherTimeout time.Duration
	Logger        *slog.Logger

	mu      sync.Mutex
	started bool
	pc      *webrtc.PeerConnection
	ch      *webrtcpeer.Channel
	local   string
	remote  string
}

// Connect negotiates against the signaling endpoint at rawURL and returns
// once the data channel is open. http(s) URLs POST the offer; ws(s) URLs send
// it as one WebSocket message.
func (c *Client) Connect(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported signaling url scheme %q", u.Scheme)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.started = true
	c.mu.Unlock()

	api := c.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	label := c.Label
	if label == "" {
		label = DefaultLabel
	}
	gatherTimeout := c.GatherTimeout
	if gatherTimeout <= 0 {
		gatherTimeout = defaultGatherTimeout
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: c.ICEServers})
	if err != nil {
		return err
	}
	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	ch := webrtcpeer.NewChannel(dc)
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	c.mu.Lock()
	c.pc = pc
	c.ch = ch
	c.mu.Unlock()

	fail := func(err error) error {
		_ = pc.Close()
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(err)
	}

	timer := time.NewTimer(gatherTimeout)
	select {
	case <-gathered:
		timer.Stop()
	case <-timer.C:
		c.logger().Warn("ice gathering timed out; offering partial candidates", "timeout", gatherTimeout)
	case <-ctx.Done():
		timer.Stop()
		return fail(ctx.Err())
	}

	local := pc.LocalDescription().SDP
	var answer string
	if u.Scheme == "ws" || u.Scheme == "wss" {
		answer, err = c.exchangeWS(ctx, u.String(), local)
	} else {
		answer, err = c.exchangeHTTP(ctx, u.String(), local)
	}
	if err != nil {
		return fail(err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail(fmt.Errorf("apply answer: %w", err))
	}

	c.mu.Lock()
	c.local = local
	c.remote = answer
	c.mu.Unlock()

	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

func (c *Client) exchangeHTTP(ctx context.Context, endpoint, offer string) (string, error) {
	body, err := json.Marshal(sessionDescription{Type: "offer", SDP: offer})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", err
	}
	var reply sessionDescription
	decodeErr := json.Unmarshal(data, &reply)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SignalingError{Status: resp.StatusCode, Code: reply.Code, Message: reply.Message}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode answer: %w", decodeErr)
	}
	return answerSDP(reply)
}

func (c *Client) exchangeWS(ctx context.Context, endpoint, offer string) (string, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sessionDescription{Type: "offer", SDP: offer}); err != nil {
		return "", err
	}

	conn.SetReadLimit(maxAnswerBytes)
	var reply sessionDescription
	if err := conn.ReadJSON(&reply); err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))

	if reply.Type == "error" {
		return "", &SignalingError{Code: reply.Code, Message: reply.Message}
	}
	return answerSDP(reply)
}

func answerSDP(reply sessionDescription) (string, error) {
	if reply.Type != "answer" || reply.SDP == "" {
		return "", fmt.Errorf("expected answer, got type %q", reply.Type)
	}
	return reply.SDP, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) channel() (*webrtcpeer.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil, ErrNotConnected
	}
	return c.ch, nil
}

func (c *Client) Send(data []byte) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.Send(data)
}

func (c *Client) SendText(s string) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.SendText(s)
}

// Channel returns the client's data channel, or nil before Connect.
func (c *Client) Channel() *webrtcpeer.Channel {
	ch, _ := c.channel()
	return ch
}

// PeerConnection returns the underlying connection, or nil before Connect.
// Extra data channels may be opened on it once connected.
func (c *Client) PeerConnection() *webrtc.PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

func (c *Client) LocalDescription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Client) RemoteDescription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Client) Close() error {
	c.mu.Lock()
	pc, ch := c.pc, c.ch
	c.mu.Unlock()
	if pc == nil {
		return nil
	}
	_ = ch.Close()
	return pc.Close()
}
