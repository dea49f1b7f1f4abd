package http

import "errors"

const (
	DefaultReadBufferSize = 4096
	MaxChunkLineSize      = 4096

	dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var (
	protocolHttp10 = "HTTP/1.0"
	protocolHttp11 = "HTTP/1.1"

	crlf       = []byte("\r\n")
	colonSpace = []byte(": ")

	chunkEndBytes = []byte("0\r\n\r\n")
)

var (
	ErrMalformedRequest   = errors.New("http: malformed request")
	ErrMalformedResponse  = errors.New("http: malformed response")
	ErrHeaderTooLarge     = errors.New("http: header too large")
	ErrInvalidHeader      = errors.New("http: invalid header")
	ErrBadContentLength   = errors.New("http: invalid content length")
	ErrUnsupportedVersion = errors.New("http: unsupported protocol version")
	ErrChunkFormat        = errors.New("http: malformed chunked encoding")
	ErrHeadersWritten     = errors.New("http: headers already written")
	ErrNotWebSocket       = errors.New("http: not a websocket connection")
	ErrConnClosed         = errors.New("http: connection closed")
	ErrNotClient          = errors.New("http: not a client connection")
	ErrHandshakeFailed    = errors.New("http: websocket handshake failed")
)
