package http

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/freekieb7/burrow/websocket"
)

type connState int32

const (
	stateAccepted connState = iota
	stateTLSHandshake
	stateReadRequest
	stateDispatch
	stateWebSocket
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateAccepted:
		return "accepted"
	case stateTLSHandshake:
		return "tls_handshake"
	case stateReadRequest:
		return "read_request"
	case stateDispatch:
		return "dispatch"
	case stateWebSocket:
		return "websocket"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one server or client connection. It is owned by the goroutine
// serving it; only Lock/Unlock and the websocket writers may be used from
// other goroutines.
type Conn struct {
	engine *Engine
	id     uuid.UUID
	conn   net.Conn
	br     *bufio.Reader
	logger *slog.Logger
	client bool
	// clientTimeout bounds writes on client connections.
	clientTimeout time.Duration

	settings *settings
	request  RequestInfo
	response ResponseInfo
	body     io.Reader
	binding  Binding
	userData any

	// userMu is the lock handed out by Lock/Unlock, writeMu keeps bytes of
	// concurrent writers from interleaving on the wire.
	userMu  sync.Mutex
	writeMu sync.Mutex

	headersWritten bool
	raw            bool
	framed         bool
	keepAlive      bool
	mustClose      bool
	status         uint16
	chunks         *ChunkedWriter

	ws *wsState

	state     atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type wsState struct {
	reader      *websocket.Reader
	closeSent   atomic.Bool
	closeNotify sync.Once
	pingPending bool
}

func newConn(nc net.Conn, br *bufio.Reader, logger *slog.Logger) *Conn {
	c := &Conn{
		id:     uuid.New(),
		conn:   nc,
		br:     br,
		logger: logger,
	}
	c.logger = logger.With("conn_id", c.id.String(), "remote", nc.RemoteAddr().String())
	return c
}

func (c *Conn) setState(s connState) {
	c.state.Store(int32(s))
}

func (c *Conn) currentState() connState {
	return connState(c.state.Load())
}

// ID returns the unique id used in log records for this connection.
func (c *Conn) ID() string {
	return c.id.String()
}

// Engine returns the engine serving this connection, nil for client
// connections.
func (c *Conn) Engine() *Engine {
	return c.engine
}

func (c *Conn) RequestInfo() *RequestInfo {
	return &c.request
}

func (c *Conn) ResponseInfo() *ResponseInfo {
	return &c.response
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) SetUserData(data any) {
	c.userData = data
}

func (c *Conn) UserData() any {
	return c.userData
}

// BindingData returns the user data of the binding the request resolved to.
func (c *Conn) BindingData() any {
	return c.binding.UserData
}

// Lock serializes a sequence of writes with other goroutines using the same
// connection. Single writes are atomic without it.
func (c *Conn) Lock() {
	c.userMu.Lock()
}

func (c *Conn) Unlock() {
	c.userMu.Unlock()
}

// Read reads the body of the current request, or of the response on a
// client connection.
func (c *Conn) Read(p []byte) (int, error) {
	if c.body == nil {
		return 0, io.EOF
	}
	return c.body.Read(p)
}

// Write sends p unmodified. On a server connection a write before
// WriteHeader is taken as a hand-written response and the connection closes
// after it.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrConnClosed
	}
	if !c.client && c.ws == nil && !c.headersWritten {
		c.headersWritten = true
		c.raw = true
		c.mustClose = true
		c.status = parseStatusPrefix(p)
	}
	return c.write(p)
}

func (c *Conn) Printf(format string, args ...any) (int, error) {
	return c.Write([]byte(fmt.Sprintf(format, args...)))
}

func (c *Conn) write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.armWrite()
	return c.conn.Write(p)
}

// armWrite moves the write deadline forward. Callers hold writeMu.
func (c *Conn) armWrite() {
	switch {
	case c.settings != nil:
		c.conn.SetWriteDeadline(time.Now().Add(c.settings.requestTimeout))
	case c.clientTimeout > 0:
		c.conn.SetWriteDeadline(time.Now().Add(c.clientTimeout))
	}
}

type connWriter struct {
	c *Conn
}

func (w connWriter) Write(p []byte) (int, error) {
	return w.c.write(p)
}

// WriteHeader sends the status line and header. The Connection header is
// managed by the engine: keep-alive is only offered when the body framing
// is known.
func (c *Conn) WriteHeader(status uint16, header Header) error {
	if c.headersWritten {
		return ErrHeadersWritten
	}
	if header == nil {
		header = Header{}
	} else {
		header = header.Clone()
	}

	chunked := header.HasToken("Transfer-Encoding", "chunked")
	c.framed = chunked || header.Has("Content-Length") || !bodyAllowed(status) || c.request.Method == "HEAD"

	if status != StatusSwitchingProtocols {
		c.keepAlive = c.framed &&
			!c.mustClose &&
			c.request.KeepAlive &&
			c.settings != nil && c.settings.keepAlive &&
			!header.HasToken("Connection", "close")
		if c.keepAlive {
			header.Set("Connection", "keep-alive")
		} else {
			header.Set("Connection", "close")
			c.mustClose = true
		}
	}

	var buf bytes.Buffer
	if err := writeResponseHead(&buf, status, header); err != nil {
		return err
	}

	c.headersWritten = true
	c.status = status
	if chunked {
		c.chunks = NewChunkedWriter(connWriter{c})
	}

	_, err := c.write(buf.Bytes())
	return err
}

// WriteResponse sends a complete response with a Content-Length.
func (c *Conn) WriteResponse(status uint16, contentType string, body []byte) error {
	header := Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	if err := c.WriteHeader(status, header); err != nil {
		return err
	}
	if c.request.Method == "HEAD" || len(body) == 0 {
		return nil
	}
	_, err := c.write(body)
	return err
}

func (c *Conn) writeError(status uint16) error {
	return c.WriteResponse(status, "text/plain; charset=utf-8", []byte(errorBody(status)))
}

// SendChunk writes p as one chunk of a chunked body.
func (c *Conn) SendChunk(p []byte) error {
	if c.chunks == nil {
		c.chunks = NewChunkedWriter(connWriter{c})
	}
	_, err := c.chunks.Write(p)
	return err
}

// EndChunks terminates a chunked body.
func (c *Conn) EndChunks() error {
	if c.chunks == nil {
		c.chunks = NewChunkedWriter(connWriter{c})
	}
	return c.chunks.Close()
}

// WebSocketWrite sends one message. Client connections mask it.
func (c *Conn) WebSocketWrite(op websocket.Opcode, data []byte) error {
	if c.ws == nil {
		return ErrNotWebSocket
	}
	if c.closed.Load() || c.ws.closeSent.Load() {
		return websocket.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.armWrite()
	if err := websocket.WriteMessage(c.conn, op, data, c.client); err != nil {
		return err
	}
	if c.engine != nil {
		c.engine.telemetry.websocketMessage(op, "out")
	}
	return nil
}

// WebSocketClientWrite sends one masked message.
func (c *Conn) WebSocketClientWrite(op websocket.Opcode, data []byte) error {
	if !c.client {
		return ErrNotClient
	}
	return c.WebSocketWrite(op, data)
}

// sendClose writes the close frame once.
func (c *Conn) sendClose(code int, reason string) error {
	if !c.ws.closeSent.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return websocket.WriteFrame(c.conn, websocket.Frame{
		Fin:     true,
		Opcode:  websocket.OpClose,
		Masked:  c.client,
		Mask:    websocket.NewMask(),
		Payload: websocket.FormatClose(code, reason),
	})
}

// Close releases the connection. A websocket peer is sent a normal close
// frame first. Further calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.setState(stateClosing)
		if c.ws != nil {
			c.sendClose(websocket.CloseNormalClosure, "")
		}
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		c.setState(stateClosed)
	})
	return c.closeErr
}

// parseStatusPrefix extracts the status from a hand-written status line.
func parseStatusPrefix(p []byte) uint16 {
	if len(p) < 12 || !bytes.HasPrefix(p, []byte("HTTP/")) {
		return 0
	}
	i := bytes.IndexByte(p, ' ')
	if i < 0 || len(p) < i+4 {
		return 0
	}
	n, err := atoi(p[i+1 : i+4])
	if err != nil {
		return 0
	}
	return uint16(n)
}
