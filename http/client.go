package http

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultClientTimeout = 30 * time.Second

	maxResponseHeadSize = 64 * 1024
)

// ClientOptions describe an outbound connection.
type ClientOptions struct {
	Host string
	Port int
	TLS  bool

	// ClientCert is a PEM file with the certificate and key presented to
	// the server.
	ClientCert string
	// ServerCert pins the server: its leaf certificate must equal one of
	// the certificates in this PEM file. Empty skips verification.
	ServerCert string

	// Timeout bounds the dial and handshake and is the default for
	// ReadResponse. Zero means DefaultClientTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

func (opts ClientOptions) timeout() time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return DefaultClientTimeout
}

func (opts ClientOptions) address() string {
	return net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
}

// Connect opens a client connection, performing the TLS handshake when
// requested. On failure no connection is left open.
func Connect(ctx context.Context, opts ClientOptions) (*Conn, error) {
	if opts.Host == "" {
		return nil, errors.New("http: no host given")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	address := opts.address()
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("http: connecting to %s: %w", address, err)
	}

	if opts.TLS {
		config, err := clientTLSConfig(opts)
		if err != nil {
			nc.Close()
			return nil, err
		}
		tlsConn := tls.Client(nc, config)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("http: tls handshake with %s: %w", address, err)
		}
		nc = tlsConn
	}

	c := newConn(nc, bufio.NewReaderSize(nc, DefaultReadBufferSize), newLogger(opts.Logger, nil))
	c.client = true
	c.clientTimeout = opts.timeout()
	c.setState(stateDispatch)
	return c, nil
}

// ConnectClient opens a connection with default options.
func ConnectClient(host string, port int, useTLS bool) (*Conn, error) {
	return Connect(context.Background(), ClientOptions{Host: host, Port: port, TLS: useTLS})
}

// Download connects, sends the formatted request and reads the response
// head. The body is read from the returned connection.
func Download(ctx context.Context, opts ClientOptions, format string, args ...any) (*Conn, error) {
	c, err := Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	if _, err := c.Printf(format, args...); err != nil {
		c.Close()
		return nil, fmt.Errorf("http: sending request to %s: %w", opts.address(), err)
	}
	if _, err := c.ReadResponse(opts.timeout()); err != nil {
		c.Close()
		return nil, fmt.Errorf("http: reading response from %s: %w", opts.address(), err)
	}
	return c, nil
}

// ReadResponse reads the response head and prepares the body for Read. The
// timeout covers the head and the body; zero waits forever.
func (c *Conn) ReadResponse(timeout time.Duration) (*ResponseInfo, error) {
	if !c.client {
		return nil, ErrNotClient
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	resp, err := readResponse(c.br, maxResponseHeadSize)
	if err != nil {
		return nil, err
	}

	c.response = resp
	switch {
	case resp.Chunked:
		c.body = NewChunkedReader(c.br)
	case resp.ContentLength >= 0:
		c.body = io.LimitReader(c.br, resp.ContentLength)
	default:
		c.body = c.br
	}
	return &c.response, nil
}
