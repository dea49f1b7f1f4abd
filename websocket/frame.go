package websocket

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxControlFramePayloadSize = 125
	maxFrameHeaderSize         = 14

	// payloadReadStep bounds how far a payload buffer grows ahead of the
	// bytes that actually arrived.
	payloadReadStep = 64 * 1024

	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80
)

// Opcode is the frame type defined in RFC 6455, section 11.8.
type Opcode byte

const (
	// OpContinuation must be preceded by a text or binary frame without FIN.
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(%d)", byte(op))
}

var (
	ErrProtocol            = errors.New("websocket: protocol error")
	ErrReserveBitSet       = fmt.Errorf("%w: reserved bit set", ErrProtocol)
	ErrReservedOpcode      = fmt.Errorf("%w: reserved opcode", ErrProtocol)
	ErrInvalidControlFrame = fmt.Errorf("%w: invalid control frame", ErrProtocol)
	ErrUnexpectedMask      = fmt.Errorf("%w: unexpected mask", ErrProtocol)
	ErrMissingMask         = fmt.Errorf("%w: client frame not masked", ErrProtocol)
	ErrUnexpectedFragment  = fmt.Errorf("%w: unexpected continuation", ErrProtocol)
	ErrInterleavedMessage  = fmt.Errorf("%w: data frame inside fragmented message", ErrProtocol)
	ErrMessageTooLarge     = errors.New("websocket: message too large")
	ErrInvalidUTF8         = errors.New("websocket: invalid utf-8 in text message")
	ErrInvalidCloseCode    = fmt.Errorf("%w: invalid close code", ErrProtocol)
	ErrClosed              = errors.New("websocket: connection closed")
)

// Frame is a single websocket frame. Payload is always stored unmasked.
type Frame struct {
	Fin     bool
	Rsv     byte
	Opcode  Opcode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// NewMask returns a random masking key.
func NewMask() [4]byte {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		panic(err)
	}
	return key
}

// MaskBytes xors b in place with key, starting pos bytes into the key stream,
// and returns the position for the next call.
func MaskBytes(key [4]byte, pos int, b []byte) int {
	for i := range b {
		b[i] ^= key[pos&3]
		pos++
	}
	return pos & 3
}

// ReadFrame reads one frame. Payloads larger than maxPayload are rejected
// before they are read; a zero maxPayload disables the check.
func ReadFrame(r io.Reader, maxPayload int64) (Frame, error) {
	var (
		frame  Frame
		header [maxFrameHeaderSize]byte
	)

	if _, err := io.ReadFull(r, header[:2]); err != nil {
		return frame, err
	}

	frame.Fin = header[0]&finBit != 0
	frame.Rsv = header[0] & rsvBits
	frame.Opcode = Opcode(header[0] & 0x0F)
	frame.Masked = header[1]&maskBit != 0

	length := int64(header[1] & 0x7F)
	switch length {
	case 126:
		if _, err := io.ReadFull(r, header[2:4]); err != nil {
			return frame, err
		}
		length = int64(binary.BigEndian.Uint16(header[2:4]))
	case 127:
		if _, err := io.ReadFull(r, header[2:10]); err != nil {
			return frame, err
		}
		size := binary.BigEndian.Uint64(header[2:10])
		if size>>63 != 0 {
			return frame, fmt.Errorf("%w: invalid payload length", ErrProtocol)
		}
		length = int64(size)
	}

	if err := validFrame(frame, length); err != nil {
		return frame, err
	}
	if maxPayload > 0 && length > maxPayload {
		return frame, ErrMessageTooLarge
	}

	if frame.Masked {
		if _, err := io.ReadFull(r, frame.Mask[:]); err != nil {
			return frame, err
		}
	}

	payload, err := readPayload(r, length)
	if err != nil {
		return frame, err
	}
	frame.Payload = payload
	if frame.Masked {
		MaskBytes(frame.Mask, 0, frame.Payload)
	}

	return frame, nil
}

// readPayload reads length bytes. The declared length is not trusted for
// allocation: large payloads are read in steps.
func readPayload(r io.Reader, length int64) ([]byte, error) {
	if length <= payloadReadStep {
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	var buf bytes.Buffer
	for remaining := length; remaining > 0; {
		step := min(remaining, payloadReadStep)
		if _, err := io.CopyN(&buf, r, step); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		remaining -= step
	}
	return buf.Bytes(), nil
}

func validFrame(frame Frame, length int64) error {
	if frame.Rsv != 0 {
		return ErrReserveBitSet
	}
	switch frame.Opcode {
	case OpContinuation, OpText, OpBinary:
	case OpClose, OpPing, OpPong:
		if !frame.Fin || length > maxControlFramePayloadSize {
			return ErrInvalidControlFrame
		}
		if frame.Opcode == OpClose && length == 1 {
			return ErrInvalidControlFrame
		}
	default:
		return fmt.Errorf("%w: opcode=%d", ErrReservedOpcode, frame.Opcode)
	}
	return nil
}

// WriteFrame encodes frame into a single write. When frame.Masked is set the
// payload is masked with frame.Mask on a copy; the caller's slice is untouched.
func WriteFrame(w io.Writer, frame Frame) error {
	if frame.Opcode.IsControl() && (len(frame.Payload) > maxControlFramePayloadSize || !frame.Fin) {
		return ErrInvalidControlFrame
	}

	var (
		bodyLen = len(frame.Payload)
		headLen = 2
		maskLen int
	)
	if frame.Masked {
		maskLen = 4
	}
	switch {
	case bodyLen < 126:
	case bodyLen <= 65535:
		headLen = 4
	default:
		headLen = 10
	}

	buf := make([]byte, headLen+maskLen+bodyLen)
	buf[0] = byte(frame.Opcode) & 0x0F
	if frame.Fin {
		buf[0] |= finBit
	}
	switch headLen {
	case 2:
		buf[1] = byte(bodyLen)
	case 4:
		buf[1] = 126
		binary.BigEndian.PutUint16(buf[2:4], uint16(bodyLen))
	default:
		buf[1] = 127
		binary.BigEndian.PutUint64(buf[2:10], uint64(bodyLen))
	}

	payload := buf[headLen+maskLen:]
	copy(payload, frame.Payload)
	if frame.Masked {
		buf[1] |= maskBit
		copy(buf[headLen:headLen+4], frame.Mask[:])
		MaskBytes(frame.Mask, 0, payload)
	}

	_, err := w.Write(buf)
	return err
}
