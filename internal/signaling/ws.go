package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-rendezvous/internal/metrics"
)

const wsWriteWait = 1 * time.Second

type wsSession struct {
	srv  *Server
	conn *websocket.Conn
	ctx  context.Context

	clientIP string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// run answers offers one at a time, so replies leave in request order.
func (wss *wsSession) run() {
	defer wss.Close()

	wss.conn.SetReadLimit(wss.srv.maxMessageBytes)

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				wss.srv.metrics.Inc(metrics.OfferMalformed)
				wss.fail("bad_message", "message too large", websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		if msgType != websocket.TextMessage {
			wss.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		answer, oerr := wss.srv.answer(wss.ctx, wss.clientIP, data)
		reply := wsReply{Type: typeAnswer, SDP: answer}
		if oerr != nil {
			reply = wsReply{Type: typeError, Code: oerr.Code, Message: oerr.Message}
		}
		if err := wss.send(reply); err != nil {
			wss.srv.logger.Debug("signaling websocket write failed", "err", err)
			return
		}
	}
}

func (wss *wsSession) send(msg wsReply) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(websocket.TextMessage, data)
}

func (wss *wsSession) fail(code, message string, closeCode int, closeReason string) {
	_ = wss.send(wsReply{Type: typeError, Code: code, Message: message})
	wss.closeWith(closeCode, closeReason)
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		_ = wss.conn.Close()
	})
}
