package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/freekieb7/burrow/websocket"
)

// DefaultClientMessageSize limits messages received by websocket clients.
const DefaultClientMessageSize = 16 * 1024 * 1024

// WebSocketClientHandler receives the messages of a client session. Nil
// fields are skipped.
type WebSocketClientHandler struct {
	// Data receives every complete message with flags 0x80|opcode. Returning
	// false closes the session.
	Data func(c *Conn, flags byte, payload []byte, data any) bool
	// Close runs exactly once when the session ends, whichever side ended it.
	Close func(c *Conn, data any)
}

// DialWebSocket connects, performs the opening handshake for path and
// starts a goroutine delivering messages to handler. Messages are sent with
// WebSocketClientWrite and the session is ended with Close.
func DialWebSocket(ctx context.Context, opts ClientOptions, path, origin string, handler WebSocketClientHandler, data any) (*Conn, error) {
	c, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	key, err := websocket.NewKey()
	if err != nil {
		c.Close()
		return nil, err
	}

	if path == "" {
		path = "/"
	}
	header := Header{}
	header.Set("Host", opts.address())
	header.Set("Upgrade", "websocket")
	header.Set("Connection", "Upgrade")
	header.Set("Sec-WebSocket-Key", key)
	header.Set("Sec-WebSocket-Version", websocket.Version)
	if origin != "" {
		header.Set("Origin", origin)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "GET %s %s\r\n", path, protocolHttp11)
	if err := header.write(&buf); err != nil {
		c.Close()
		return nil, err
	}
	buf.Write(crlf)

	if _, err := c.write(buf.Bytes()); err != nil {
		c.Close()
		return nil, fmt.Errorf("http: sending websocket handshake: %w", err)
	}

	resp, err := c.ReadResponse(opts.timeout())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("http: reading websocket handshake: %w", err)
	}
	if resp.StatusCode != StatusSwitchingProtocols {
		c.Close()
		return nil, fmt.Errorf("%w: server answered %d %s", ErrHandshakeFailed, resp.StatusCode, resp.Status)
	}
	if !resp.Header.HasToken("Upgrade", "websocket") || resp.Header.Get("Sec-WebSocket-Accept") != websocket.AcceptKey(key) {
		c.Close()
		return nil, fmt.Errorf("%w: bad upgrade response", ErrHandshakeFailed)
	}

	c.conn.SetReadDeadline(time.Time{})
	c.body = nil
	c.ws = &wsState{
		reader: websocket.NewReader(c.br, false, DefaultClientMessageSize),
	}
	c.setState(stateWebSocket)

	go c.clientLoop(handler, data)
	return c, nil
}

func (c *Conn) clientLoop(handler WebSocketClientHandler, data any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("websocket client handler panic", "panic", r)
		}
		c.ws.closeNotify.Do(func() {
			if handler.Close != nil {
				handler.Close(c, data)
			}
		})
		c.Close()
	}()

	for {
		op, payload, err := c.ws.reader.NextMessage()
		if err != nil {
			switch {
			case c.closed.Load(), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
			default:
				c.logger.Info("websocket read failed", "error", err)
				c.sendClose(websocket.CloseCodeFor(err), "")
			}
			return
		}

		switch op {
		case websocket.OpPing:
			if err := c.WebSocketWrite(websocket.OpPong, payload); err != nil {
				return
			}
		case websocket.OpPong:
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
			if handler.Data != nil && !handler.Data(c, 0x80|byte(op), payload, data) {
				c.sendClose(websocket.CloseNormalClosure, "")
				return
			}
		}
	}
}
