package websocket

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// Close status codes from RFC 6455, section 7.4.1.
const (
	CloseNormalClosure    = 1000
	CloseGoingAway        = 1001
	CloseProtocolError    = 1002
	CloseUnsupportedData  = 1003
	CloseNoStatusReceived = 1005
	CloseAbnormalClosure  = 1006
	CloseInvalidPayload   = 1007
	ClosePolicyViolation  = 1008
	CloseMessageTooBig    = 1009
	CloseInternalError    = 1011
)

func validCloseCode(code int) bool {
	switch code {
	case 1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 1012, 1013, 1014:
		return true
	case 1004, 1005, 1006, 1015:
		return false
	}
	// 3000-3999 are registered with IANA, 4000-4999 are private.
	return code >= 3000 && code < 5000
}

// FormatClose builds a close frame payload.
func FormatClose(code int, reason string) []byte {
	if code == CloseNoStatusReceived {
		return nil
	}
	if len(reason) > maxControlFramePayloadSize-2 {
		reason = reason[:maxControlFramePayloadSize-2]
	}
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(code))
	copy(buf[2:], reason)
	return buf
}

// ParseClose decodes a close frame payload. An empty payload yields
// CloseNoStatusReceived.
func ParseClose(payload []byte) (int, string, error) {
	if len(payload) == 0 {
		return CloseNoStatusReceived, "", nil
	}
	if len(payload) < 2 {
		return 0, "", ErrInvalidControlFrame
	}
	code := int(binary.BigEndian.Uint16(payload))
	if !validCloseCode(code) {
		return code, "", ErrInvalidCloseCode
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return code, "", ErrInvalidUTF8
	}
	return code, string(reason), nil
}

// CloseCodeFor maps a read error to the status sent in the closing frame.
func CloseCodeFor(err error) int {
	switch {
	case err == nil:
		return CloseNormalClosure
	case errors.Is(err, ErrMessageTooLarge):
		return CloseMessageTooBig
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidPayload
	case errors.Is(err, ErrProtocol):
		return CloseProtocolError
	}
	return CloseInternalError
}
