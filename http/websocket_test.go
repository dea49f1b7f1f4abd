package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freekieb7/burrow/test"
	"github.com/freekieb7/burrow/websocket"
)

// greeter answers data1, data2 and data3 and says goodbye on bye.
func greeter(closed *atomic.Int32) *WebSocketHandler {
	return &WebSocketHandler{
		Ready: func(c *Conn, data any) {
			c.WebSocketWrite(websocket.OpText, []byte("websocket welcome\n"))
		},
		Data: func(c *Conn, flags byte, payload []byte, data any) bool {
			switch string(payload) {
			case "data1":
				c.WebSocketWrite(websocket.OpText, []byte("ok1"))
			case "data2":
				c.WebSocketWrite(websocket.OpText, []byte("ok 2"))
			case "data3":
				c.WebSocketWrite(websocket.OpText, []byte("ok - 3"))
			case "bye":
				c.WebSocketWrite(websocket.OpText, []byte("websocket bye\n"))
				return false
			default:
				c.WebSocketWrite(websocket.Opcode(flags&0x0f), payload)
			}
			return true
		},
		Close: func(c *Conn, data any) {
			closed.Add(1)
		},
	}
}

type wsRecorder struct {
	messages chan string
	closed   chan struct{}
	closes   atomic.Int32
}

func newRecorder() *wsRecorder {
	return &wsRecorder{
		messages: make(chan string, 16),
		closed:   make(chan struct{}),
	}
}

func (r *wsRecorder) handler() WebSocketClientHandler {
	return WebSocketClientHandler{
		Data: func(c *Conn, flags byte, payload []byte, data any) bool {
			r.messages <- string(payload)
			return true
		},
		Close: func(c *Conn, data any) {
			if r.closes.Add(1) == 1 {
				close(r.closed)
			}
		},
	}
}

func (r *wsRecorder) next(t *testing.T) string {
	t.Helper()

	select {
	case msg := <-r.messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a websocket message")
		return ""
	}
}

func (r *wsRecorder) waitClosed(t *testing.T) {
	t.Helper()

	select {
	case <-r.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("client close callback did not run")
	}
}

func TestWebSocketSession(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{})
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/websocket", "", rec.handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	test.AssertEqual(t, "websocket welcome\n", rec.next(t))

	for _, exchange := range [][2]string{{"data1", "ok1"}, {"data2", "ok 2"}, {"data3", "ok - 3"}} {
		if err := c.WebSocketClientWrite(websocket.OpText, []byte(exchange[0])); err != nil {
			t.Fatal(err)
		}
		test.AssertEqual(t, exchange[1], rec.next(t))
	}

	if err := c.WebSocketClientWrite(websocket.OpText, []byte("bye")); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "websocket bye\n", rec.next(t))

	rec.waitClosed(t)
	test.Eventually(t, 5*time.Second, func() bool { return serverClosed.Load() == 1 }, "server close callback should run once")

	select {
	case msg := <-rec.messages:
		t.Errorf("unexpected message after close: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
	test.AssertEqual(t, int32(1), rec.closes.Load())

	if err := c.WebSocketClientWrite(websocket.OpText, []byte("late")); !errors.Is(err, websocket.ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestWebSocketLargeMessage(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{})
	e.HandleWebSocket("/echo", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/echo", "http://localhost", rec.handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	rec.next(t)

	// larger than one frame, so it travels fragmented
	payload := bytes.Repeat([]byte("0123456789"), 4000)
	if err := c.WebSocketClientWrite(websocket.OpBinary, payload); err != nil {
		t.Fatal(err)
	}
	test.AssertTrue(t, rec.next(t) == string(payload), "echoed payload differs")
}

func TestWebSocketClientClose(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{})
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/websocket", "", rec.handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.next(t)

	c.Close()
	c.Close()

	rec.waitClosed(t)
	test.Eventually(t, 5*time.Second, func() bool { return serverClosed.Load() == 1 }, "server should see the close")
}

func TestWebSocketRejected(t *testing.T) {
	e := startEngine(t, Config{})
	e.HandleWebSocket("/private", &WebSocketHandler{
		Connect: func(c *Conn, data any) error {
			return errors.New("not allowed")
		},
	}, nil)

	_, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/private", "", WebSocketClientHandler{}, nil)
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	test.AssertTrue(t, strings.Contains(err.Error(), "403"), "error should carry the 403 status")
}

func TestWebSocketHandshakeErrors(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{})
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)
	port := e.Ports()[0].Port

	resp, _ := fetch(t, port, "GET /websocket HTTP/1.1\r\nHost: localhost\r\n\r\n")
	test.AssertEqual(t, uint16(StatusUpgradeRequired), resp.StatusCode)

	resp, _ = fetch(t, port, "GET /websocket HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 8\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")
	test.AssertEqual(t, uint16(StatusBadRequest), resp.StatusCode)

	resp, _ = fetch(t, port, "GET /websocket HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 13\r\nSec-WebSocket-Key: short\r\n\r\n")
	test.AssertEqual(t, uint16(StatusBadRequest), resp.StatusCode)

	test.AssertEqual(t, int32(0), serverClosed.Load())
}

func TestWebSocketServerRejectsUnmaskedFrames(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{})
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/websocket", "", rec.handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	rec.next(t)

	// bypass the client writer to send a frame without a mask
	c.writeMu.Lock()
	websocket.WriteFrame(c.conn, websocket.Frame{Fin: true, Opcode: websocket.OpText, Payload: []byte("bare")})
	c.writeMu.Unlock()

	rec.waitClosed(t)
	test.Eventually(t, 5*time.Second, func() bool { return serverClosed.Load() == 1 }, "server should end the session")
}

func TestStopClosesWebSockets(t *testing.T) {
	var serverClosed atomic.Int32
	options, err := NewOptions("listening_ports", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	e, err := Start(Config{Options: options, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/websocket", "", rec.handler(), nil)
	if err != nil {
		e.Stop()
		t.Fatal(err)
	}
	defer c.Close()
	rec.next(t)

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return with an open websocket")
	}
	rec.waitClosed(t)
	test.AssertEqual(t, int32(1), serverClosed.Load())

	if nc, err := net.DialTimeout("tcp4", "127.0.0.1:"+strconv.Itoa(e.Ports()[0].Port), time.Second); err == nil {
		nc.Close()
		t.Error("listener still accepting after Stop")
	}
}

func TestWebSocketPing(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{}, "websocket_timeout_ms", "100", "enable_websocket_ping_pong", "yes")
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/websocket", "", rec.handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	rec.next(t)

	// the client answers pings, so the session outlives several timeouts
	time.Sleep(350 * time.Millisecond)
	if err := c.WebSocketClientWrite(websocket.OpText, []byte("data1")); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, "ok1", rec.next(t))
	test.AssertEqual(t, int32(0), serverClosed.Load())
}

func TestWebSocketIdleTimeout(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{}, "websocket_timeout_ms", "100")
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	rec := newRecorder()
	c, err := DialWebSocket(context.Background(), clientOptions(e.Ports()[0].Port), "/websocket", "", rec.handler(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	rec.next(t)

	rec.waitClosed(t)
	test.Eventually(t, 5*time.Second, func() bool { return serverClosed.Load() == 1 }, "idle session should close")
}

// dialRaw upgrades a plain TCP connection so frames can be written byte by
// byte.
func dialRaw(t *testing.T, port int, path string) (net.Conn, *bufio.Reader) {
	t.Helper()

	nc, err := net.DialTimeout("tcp4", "127.0.0.1:"+strconv.Itoa(port), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { nc.Close() })

	key, err := websocket.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintf(nc, "GET %s HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 13\r\nSec-WebSocket-Key: %s\r\n\r\n", path, key)

	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(nc)
	resp, err := readResponse(br, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	return nc, br
}

func TestWebSocketSlowFrameIsNotIdle(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{}, "websocket_timeout_ms", "200", "enable_websocket_ping_pong", "yes")
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)

	nc, br := dialRaw(t, e.Ports()[0].Port, "/websocket")
	frames := websocket.NewReader(br, false, 0)
	if _, msg, err := frames.NextMessage(); err != nil || string(msg) != "websocket welcome\n" {
		t.Fatalf("expected welcome, got %q %v", msg, err)
	}

	mask := websocket.NewMask()
	payload := []byte("hello")
	websocket.MaskBytes(mask, 0, payload)

	// the header arrives, then the rest of the frame after the idle timeout
	if _, err := nc.Write([]byte{0x81, 0x80 | byte(len(payload))}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(350 * time.Millisecond)
	if _, err := nc.Write(append(mask[:], payload...)); err != nil {
		t.Fatal(err)
	}

	for {
		op, msg, err := frames.NextMessage()
		if err != nil {
			t.Fatalf("reading echo: %v", err)
		}
		if op == websocket.OpPing {
			continue
		}
		test.AssertEqual(t, websocket.OpText, op)
		test.AssertEqual(t, "hello", string(msg))
		break
	}
	test.AssertEqual(t, int32(0), serverClosed.Load())
}

func TestWebSocketHugeFrameWithoutLimit(t *testing.T) {
	var serverClosed atomic.Int32
	e := startEngine(t, Config{}, "max_websocket_message_size", "0")
	e.HandleWebSocket("/websocket", greeter(&serverClosed), nil)
	port := e.Ports()[0].Port

	nc, br := dialRaw(t, port, "/websocket")
	if _, _, err := websocket.NewReader(br, false, 0).NextMessage(); err != nil {
		t.Fatal(err)
	}

	header := binary.BigEndian.AppendUint64([]byte{0x82, 0xFF}, 1<<46)
	mask := websocket.NewMask()
	nc.Write(append(header, mask[:]...))
	nc.Write(make([]byte, 1024))
	nc.Close()

	test.Eventually(t, 5*time.Second, func() bool { return serverClosed.Load() == 1 }, "session should end with the connection")

	resp, _ := fetch(t, port, "GET /websocket HTTP/1.1\r\nHost: localhost\r\n\r\n")
	test.AssertEqual(t, uint16(StatusUpgradeRequired), resp.StatusCode)
}
