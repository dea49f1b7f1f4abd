package http

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/freekieb7/burrow/websocket"
)

func isUpgradeRequest(req *RequestInfo) bool {
	return req.Header.HasToken("Connection", "upgrade") && req.Header.HasToken("Upgrade", "websocket")
}

// serveWebSocket performs the server handshake and runs the message loop
// until either side closes.
func (e *Engine) serveWebSocket(c *Conn, binding Binding) uint16 {
	handler := binding.WebSocket
	req := &c.request

	if req.Method != "GET" || !isUpgradeRequest(req) {
		header := Header{}
		header.Set("Upgrade", "websocket")
		header.Set("Content-Length", "0")
		c.WriteHeader(StatusUpgradeRequired, header)
		return StatusUpgradeRequired
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	if req.Header.Get("Sec-WebSocket-Version") != websocket.Version || !websocket.ValidKey(key) {
		header := Header{}
		header.Set("Sec-WebSocket-Version", websocket.Version)
		header.Set("Content-Length", "0")
		c.WriteHeader(StatusBadRequest, header)
		return StatusBadRequest
	}

	if handler.Connect != nil {
		if err := handler.Connect(c, binding.UserData); err != nil {
			c.logger.Info("websocket connection rejected", "path", req.Path, "reason", err)
			c.mustClose = true
			return e.sendError(c, StatusForbidden)
		}
	}

	header := Header{}
	header.Set("Upgrade", "websocket")
	header.Set("Connection", "Upgrade")
	header.Set("Sec-WebSocket-Accept", websocket.AcceptKey(key))
	if protocol := req.Header.Get("Sec-WebSocket-Protocol"); protocol != "" {
		first, _, _ := strings.Cut(protocol, ",")
		header.Set("Sec-WebSocket-Protocol", strings.TrimSpace(first))
	}
	if err := c.WriteHeader(StatusSwitchingProtocols, header); err != nil {
		c.mustClose = true
		return StatusSwitchingProtocols
	}

	c.ws = &wsState{
		reader: websocket.NewReader(c.br, true, c.settings.maxMessageSize),
	}
	c.body = nil
	c.setState(stateWebSocket)

	defer e.closeWebSocket(c, handler, binding.UserData)

	if handler.Ready != nil {
		handler.Ready(c, binding.UserData)
	}

	e.webSocketLoop(c, handler, binding.UserData)
	return StatusSwitchingProtocols
}

func (e *Engine) webSocketLoop(c *Conn, handler *WebSocketHandler, data any) {
	for {
		if !e.armRead(c, c.settings.websocketTimeout) {
			c.sendClose(websocket.CloseGoingAway, "server stopping")
			return
		}

		// Only the wait for the first byte of a frame counts as idle; Peek
		// consumes nothing.
		if _, err := c.br.Peek(1); err != nil {
			if isTimeout(err) && !e.stopping.Load() && c.settings.websocketPingPong && !c.ws.pingPending {
				c.ws.pingPending = true
				if c.WebSocketWrite(websocket.OpPing, nil) == nil {
					continue
				}
			}
			e.endWebSocketRead(c, err, "idle timeout")
			return
		}

		if !e.armRead(c, c.settings.requestTimeout) {
			c.sendClose(websocket.CloseGoingAway, "server stopping")
			return
		}
		op, payload, err := c.ws.reader.NextMessage()
		if err != nil {
			e.endWebSocketRead(c, err, "read timeout")
			return
		}

		e.telemetry.websocketMessage(op, "in")

		switch op {
		case websocket.OpPing:
			if err := c.WebSocketWrite(websocket.OpPong, payload); err != nil {
				return
			}
		case websocket.OpPong:
			c.ws.pingPending = false
		case websocket.OpClose:
			code, _, err := websocket.ParseClose(payload)
			if err != nil {
				c.sendClose(websocket.CloseCodeFor(err), "")
				return
			}
			if code == websocket.CloseNoStatusReceived {
				code = websocket.CloseNormalClosure
			}
			c.sendClose(code, "")
			return
		default:
			c.ws.pingPending = false
			if handler.Data != nil && !handler.Data(c, 0x80|byte(op), payload, data) {
				c.sendClose(websocket.CloseNormalClosure, "")
				awaitClose(c)
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded)
}

// endWebSocketRead answers a failed read with the matching close frame.
func (e *Engine) endWebSocketRead(c *Conn, err error, timeoutReason string) {
	switch {
	case e.stopping.Load():
		c.sendClose(websocket.CloseGoingAway, "server stopping")
	case isTimeout(err):
		c.sendClose(websocket.CloseGoingAway, timeoutReason)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
	default:
		c.logger.Info("websocket read failed", "error", err)
		c.sendClose(websocket.CloseCodeFor(err), "")
	}
}

// awaitClose gives the peer a moment to answer our close frame so the
// socket is not reset under unread data.
func awaitClose(c *Conn) {
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		op, _, err := c.ws.reader.NextMessage()
		if err != nil || op == websocket.OpClose {
			return
		}
	}
}

func (e *Engine) closeWebSocket(c *Conn, handler *WebSocketHandler, data any) {
	c.ws.closeNotify.Do(func() {
		c.setState(stateClosing)
		if handler.Close != nil {
			handler.Close(c, data)
		}
	})
}
