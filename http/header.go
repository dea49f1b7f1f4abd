package http

import (
	"bytes"
	"fmt"
	"net/textproto"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header maps canonical header names to their values.
type Header map[string][]string

func (h Header) Add(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	h[key] = append(h[key], value)
}

func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = []string{value}
}

func (h Header) Get(key string) string {
	if values := h[textproto.CanonicalMIMEHeaderKey(key)]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func (h Header) Values(key string) []string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// HasToken reports whether any value of the comma separated header key
// contains token, compared case-insensitively.
func (h Header) HasToken(key, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(key), token)
}

func (h Header) Clone() Header {
	clone := make(Header, len(h))
	for k, v := range h {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

// write emits the header block in sorted order without the terminating CRLF.
// Invalid names or values are rejected rather than sanitized.
func (h Header) write(buf *bytes.Buffer) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !httpguts.ValidHeaderFieldName(k) {
			return fmt.Errorf("%w: header name %q", ErrInvalidHeader, k)
		}
		for _, v := range h[k] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("%w: header %s value %q", ErrInvalidHeader, k, v)
			}
			buf.WriteString(k)
			buf.Write(colonSpace)
			buf.WriteString(strings.TrimSpace(v))
			buf.Write(crlf)
		}
	}
	return nil
}
