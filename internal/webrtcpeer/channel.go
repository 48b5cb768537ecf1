package webrtcpeer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// messageBacklog is how many inbound messages a Channel buffers before it
// starts blocking pion's SCTP read loop.
const messageBacklog = 64

// Message is one inbound data channel message.
type Message struct {
	Data     []byte
	IsString bool
}

// Channel is an open data channel. Inbound messages are delivered in order
// on Messages until the channel closes.
type Channel struct {
	dc       *webrtc.DataChannel
	messages chan Message
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewChannel wraps dc. Install it before dc opens so no message is missed.
func NewChannel(dc *webrtc.DataChannel) *Channel {
	c := &Channel{
		dc:       dc,
		messages: make(chan Message, messageBacklog),
		done:     make(chan struct{}),
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// pion reuses its read buffer.
		data := append([]byte(nil), msg.Data...)
		c.deliver(Message{Data: data, IsString: msg.IsString})
	})
	dc.OnClose(c.markClosed)
	return c
}

func (c *Channel) deliver(msg Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.messages <- msg:
	case <-c.done:
	}
}

func (c *Channel) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Channel) Label() string { return c.dc.Label() }

func (c *Channel) Send(data []byte) error { return c.dc.Send(data) }

func (c *Channel) SendText(s string) error { return c.dc.SendText(s) }

// Messages is never closed; select on Done to observe the end of the stream.
func (c *Channel) Messages() <-chan Message { return c.messages }

// Done is closed once the channel has closed, locally or remotely.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) Close() error {
	err := c.dc.Close()
	c.markClosed()
	return err
}
