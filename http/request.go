package http

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// RequestInfo describes the request currently served on a connection.
type RequestInfo struct {
	Method     string
	RequestURI string
	Path       string
	Query      string
	Proto      string
	Header     Header

	// ContentLength is -1 when the body is chunked.
	ContentLength int64
	Chunked       bool
	KeepAlive     bool

	RemoteAddr string
	RemotePort int
	LocalPort  int
	TLS        bool
	ClientCert *x509.Certificate
}

// headReader reads CRLF terminated lines, failing once the total exceeds
// the configured head size.
type headReader struct {
	br        *bufio.Reader
	remaining int
}

func (hr *headReader) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := hr.br.ReadSlice('\n')
		hr.remaining -= len(chunk)
		if hr.remaining < 0 {
			return "", ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		break
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), nil
}

func (hr *headReader) readHeaders() (Header, error) {
	header := Header{}
	for {
		line, err := hr.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			return header, nil
		}

		name, value, found := strings.Cut(line, ":")
		if !found || !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedRequest, line)
		}
		value = strings.TrimSpace(value)
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("%w: header %s", ErrMalformedRequest, name)
		}
		header.Add(name, value)
	}
}

func readRequest(br *bufio.Reader, maxSize int) (RequestInfo, error) {
	var req RequestInfo
	hr := headReader{br: br, remaining: maxSize}

	// Read request line, tolerating empty lines left over from a previous request
	var requestLine string
	for requestLine == "" {
		line, err := hr.readLine()
		if err != nil {
			return req, err
		}
		requestLine = line
	}

	method, rest, ok1 := strings.Cut(requestLine, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || !httpguts.ValidHeaderFieldName(method) || target == "" || strings.ContainsAny(target, " \t") {
		return req, fmt.Errorf("%w: request line %q", ErrMalformedRequest, requestLine)
	}
	if !strings.HasPrefix(proto, "HTTP/") {
		return req, fmt.Errorf("%w: protocol %q", ErrMalformedRequest, proto)
	}

	req.Method = method
	req.RequestURI = target
	req.Proto = proto
	if proto != protocolHttp10 && proto != protocolHttp11 {
		return req, fmt.Errorf("%w: %s", ErrUnsupportedVersion, proto)
	}

	if err := req.parseTarget(); err != nil {
		return req, err
	}

	// Read headers
	header, err := hr.readHeaders()
	if err != nil {
		return req, err
	}
	req.Header = header

	if err := req.parseFraming(); err != nil {
		return req, err
	}

	// Determine keep-alive or not
	if proto == protocolHttp11 {
		req.KeepAlive = !header.HasToken("Connection", "close")
	} else {
		req.KeepAlive = header.HasToken("Connection", "keep-alive")
	}

	return req, nil
}

func (req *RequestInfo) parseTarget() error {
	target := req.RequestURI
	if !strings.HasPrefix(target, "/") {
		parsed, err := url.Parse(target)
		if err != nil || parsed.Host == "" {
			if req.Method == "OPTIONS" && target == "*" {
				req.Path = "*"
				return nil
			}
			return fmt.Errorf("%w: target %q", ErrMalformedRequest, target)
		}
		target = parsed.RequestURI()
	}

	rawPath, query, _ := strings.Cut(target, "?")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return fmt.Errorf("%w: target %q", ErrMalformedRequest, target)
	}
	req.Path = path
	req.Query = query
	return nil
}

// parseFraming picks the body length: chunked wins over Content-Length.
func (req *RequestInfo) parseFraming() error {
	if codings := req.Header.Values("Transfer-Encoding"); len(codings) > 0 {
		if req.Proto == protocolHttp10 || !httpguts.HeaderValuesContainsToken(codings, "chunked") {
			return fmt.Errorf("%w: transfer encoding %q", ErrMalformedRequest, strings.Join(codings, ","))
		}
		req.Chunked = true
		req.ContentLength = -1
		return nil
	}

	length, err := parseContentLength(req.Header.Values("Content-Length"))
	if err != nil {
		return err
	}
	req.ContentLength = length
	return nil
}

func parseContentLength(values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	first := strings.TrimSpace(values[0])
	for _, v := range values[1:] {
		if strings.TrimSpace(v) != first {
			return 0, fmt.Errorf("%w: conflicting values", ErrBadContentLength)
		}
	}

	n, err := atoi([]byte(first))
	if err != nil || first == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadContentLength, first)
	}
	return int64(n), nil
}
