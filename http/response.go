package http

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResponseInfo describes a response read by a client connection.
type ResponseInfo struct {
	Proto      string
	StatusCode uint16
	Status     string
	Header     Header

	// ContentLength is -1 when the body runs until the connection closes
	// or is chunked.
	ContentLength int64
	Chunked       bool
}

func readResponse(br *bufio.Reader, maxSize int) (ResponseInfo, error) {
	var resp ResponseInfo
	hr := headReader{br: br, remaining: maxSize}

	statusLine, err := hr.readLine()
	if err != nil {
		return resp, err
	}

	proto, rest, ok := strings.Cut(statusLine, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return resp, fmt.Errorf("%w: status line %q", ErrMalformedResponse, statusLine)
	}
	code, reason, _ := strings.Cut(rest, " ")
	status, err := strconv.ParseUint(code, 10, 16)
	if err != nil || len(code) != 3 {
		return resp, fmt.Errorf("%w: status code %q", ErrMalformedResponse, code)
	}

	resp.Proto = proto
	resp.StatusCode = uint16(status)
	resp.Status = reason

	header, err := hr.readHeaders()
	if err != nil {
		return resp, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	resp.Header = header

	resp.ContentLength = -1
	switch {
	case header.HasToken("Transfer-Encoding", "chunked"):
		resp.Chunked = true
	case header.Has("Content-Length"):
		length, err := parseContentLength(header.Values("Content-Length"))
		if err != nil {
			return resp, err
		}
		resp.ContentLength = length
	case status == 101 || status == 204 || status == 304 || status < 200:
		resp.ContentLength = 0
	}

	return resp, nil
}

// writeResponseHead renders the status line and header block including the
// terminating empty line.
func writeResponseHead(buf *bytes.Buffer, status uint16, header Header) error {
	buf.WriteString(protocolHttp11)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(int(status)))
	buf.WriteByte(' ')
	buf.WriteString(StatusText(status))
	buf.Write(crlf)

	if !header.Has("Date") {
		header.Set("Date", time.Now().UTC().Format(dateFormat))
	}
	if err := header.write(buf); err != nil {
		return err
	}
	buf.Write(crlf)
	return nil
}

func errorBody(status uint16) string {
	return fmt.Sprintf("Error %d: %s", status, StatusText(status))
}

// bodyAllowed reports whether a response with this status may carry a body.
func bodyAllowed(status uint16) bool {
	return status >= 200 && status != StatusNoContent && status != StatusNotModified
}
