package http

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"
)

func (e *Engine) serveJob(j job) {
	br := e.pool.acquireReader(j.conn)
	c := newConn(j.conn, br, e.logger)
	c.engine = e

	defer e.pool.releaseReader(br)
	e.serveConn(c, j.port)
}

// serveConn runs the connection state machine until the connection closes.
// Every exit path releases the socket exactly once.
func (e *Engine) serveConn(c *Conn, port ListeningPort) {
	defer c.Close()
	if !e.track(c) {
		return
	}
	defer e.untrack(c)

	e.telemetry.connectionActive(1)
	defer e.telemetry.connectionActive(-1)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("connection panic", "state", c.currentState().String(), "panic", r)
		}
		if e.callbacks.ConnectionClose != nil {
			e.callbacks.ConnectionClose(c)
		}
	}()

	c.setState(stateAccepted)
	c.settings = e.settings.Load()

	if port.TLS {
		if !e.handshake(c) {
			return
		}
	}

	if port.Redirect {
		e.serveRedirect(c)
		return
	}

	for {
		if !e.serveRequest(c, port) {
			return
		}
	}
}

func (e *Engine) handshake(c *Conn) bool {
	c.setState(stateTLSHandshake)

	tlsConn := tls.Server(c.conn, e.tlsConfig)
	tlsConn.SetDeadline(time.Now().Add(c.settings.requestTimeout))
	if e.stopping.Load() {
		return false
	}

	if err := tlsConn.Handshake(); err != nil {
		e.telemetry.tlsFailure()
		c.logger.Warn("tls handshake failed", "error", err)
		return false
	}
	tlsConn.SetDeadline(time.Time{})

	c.conn = tlsConn
	c.br.Reset(tlsConn)
	return true
}

// armRead moves the read deadline forward. It reports false when the
// engine is stopping, so a deadline set by Stop is never overridden.
func (e *Engine) armRead(c *Conn, timeout time.Duration) bool {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	return !e.stopping.Load()
}

func (e *Engine) resetRequest(c *Conn, port ListeningPort) {
	c.settings = e.settings.Load()
	c.request = RequestInfo{}
	c.body = nil
	c.binding = Binding{}
	c.headersWritten = false
	c.raw = false
	c.framed = false
	c.keepAlive = false
	c.status = 0
	c.chunks = nil

	c.request.TLS = port.TLS
	c.request.LocalPort = port.Port
	if addr, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		c.request.RemoteAddr = addr.IP.String()
		c.request.RemotePort = addr.Port
	}
	if tlsConn, ok := c.conn.(*tls.Conn); ok {
		if certs := tlsConn.ConnectionState().PeerCertificates; len(certs) > 0 {
			c.request.ClientCert = certs[0]
		}
	}
}

// serveRequest handles one request and reports whether the connection may
// serve another.
func (e *Engine) serveRequest(c *Conn, port ListeningPort) bool {
	first := c.request.Method == ""
	e.resetRequest(c, port)
	c.setState(stateReadRequest)

	timeout := c.settings.requestTimeout
	if !first {
		timeout = c.settings.keepAliveTimeout
	}
	if !e.armRead(c, timeout) {
		return false
	}

	// Wait for the first byte with the keep-alive timeout, then give the
	// rest of the head the full request timeout.
	if _, err := c.br.Peek(1); err != nil {
		return false
	}
	if !e.armRead(c, c.settings.requestTimeout) {
		return false
	}

	req, err := readRequest(c.br, c.settings.maxRequestSize)
	req.TLS = c.request.TLS
	req.LocalPort = c.request.LocalPort
	req.RemoteAddr = c.request.RemoteAddr
	req.RemotePort = c.request.RemotePort
	req.ClientCert = c.request.ClientCert
	c.request = req
	if err != nil {
		e.rejectRequest(c, err)
		return false
	}

	switch {
	case req.Chunked:
		c.body = NewChunkedReader(c.br)
	case req.ContentLength > 0:
		c.body = io.LimitReader(c.br, req.ContentLength)
	}

	c.setState(stateDispatch)
	status := e.dispatch(c)

	if c.chunks != nil && !c.chunks.closed && !c.raw {
		if err := c.chunks.Close(); err != nil {
			return false
		}
	}
	if e.callbacks.EndRequest != nil {
		e.callbacks.EndRequest(c, status)
	}

	if c.ws != nil || c.mustClose || !c.keepAlive {
		return false
	}

	// Drain what the handler left unread so the next request starts at a
	// message boundary.
	if c.body != nil {
		if !e.armRead(c, c.settings.requestTimeout) {
			return false
		}
		if _, err := io.Copy(io.Discard, c.body); err != nil {
			return false
		}
	}
	return true
}

// rejectRequest answers requests that parsed far enough to deserve a
// response; anything else is closed silently.
func (e *Engine) rejectRequest(c *Conn, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedVersion):
		c.mustClose = true
		c.writeError(StatusHTTPVersionNotSupported)
	case errors.Is(err, ErrBadContentLength):
		c.mustClose = true
		c.writeError(StatusBadRequest)
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, net.ErrClosed):
	default:
		c.logger.Warn("bad request", "error", err)
	}
}

// dispatch routes the request and returns the status sent.
func (e *Engine) dispatch(c *Conn) (status uint16) {
	ctx, span := e.telemetry.startRequest(&c.request)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "path", c.request.Path, "panic", r)
			if !c.headersWritten {
				c.writeError(StatusInternalServerError)
			}
			c.mustClose = true
			status = StatusInternalServerError
		}
		e.telemetry.endRequest(ctx, span, c.request.Method, status)
	}()

	if e.callbacks.BeginRequest != nil && e.callbacks.BeginRequest(c) {
		return c.status
	}

	binding, found := e.router.Resolve(c.request.Path)
	if found {
		c.binding = binding
	}

	switch {
	case found && binding.WebSocket != nil:
		return e.serveWebSocket(c, binding)
	case found && binding.Handler != nil:
		if handled := binding.Handler(c, binding.UserData); handled != 0 {
			if !c.headersWritten {
				// handled without writing anything: nothing to keep alive for
				c.mustClose = true
			}
			if c.status != 0 {
				return c.status
			}
			return handled
		}
		if c.headersWritten {
			return c.status
		}
	}

	return e.serveStatic(c)
}

// serveRedirect answers every request on a redirect port with 302 to the
// first TLS port.
func (e *Engine) serveRedirect(c *Conn) {
	c.setState(stateReadRequest)
	if !e.armRead(c, c.settings.requestTimeout) {
		return
	}

	req, err := readRequest(c.br, c.settings.maxRequestSize)
	if err != nil {
		return
	}
	c.request = req
	c.setState(stateDispatch)

	var tlsPort int
	for _, port := range e.ports {
		if port.TLS {
			tlsPort = port.Port
			break
		}
	}

	host := req.Header.Get("Host")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		if addr, ok := c.conn.LocalAddr().(*net.TCPAddr); ok {
			host = addr.IP.String()
		} else {
			host = c.settings.authDomain
		}
	}

	location := fmt.Sprintf("https://%s%s", net.JoinHostPort(host, strconv.Itoa(tlsPort)), req.RequestURI)
	header := Header{}
	header.Set("Location", location)
	header.Set("Content-Length", "0")
	c.mustClose = true
	if err := c.WriteHeader(StatusFound, header); err != nil {
		c.logger.Warn("redirect failed", "error", err)
	}
	if e.callbacks.EndRequest != nil {
		e.callbacks.EndRequest(c, StatusFound)
	}
}
