package websocket

import (
	"io"
	"unicode/utf8"
)

// Reader reassembles frames into messages. Control frames are returned as
// soon as they arrive, even in the middle of a fragmented message.
type Reader struct {
	r io.Reader

	// MaxMessageSize bounds a reassembled message; zero means unlimited.
	MaxMessageSize int64
	// FromClient requires every frame to be masked, otherwise masked frames
	// are rejected.
	FromClient bool

	opcode  Opcode
	message []byte
	pending bool
}

func NewReader(r io.Reader, fromClient bool, maxMessageSize int64) *Reader {
	return &Reader{
		r:              r,
		FromClient:     fromClient,
		MaxMessageSize: maxMessageSize,
	}
}

// NextMessage returns the next complete data message or control frame.
func (rd *Reader) NextMessage() (Opcode, []byte, error) {
	for {
		// Control frames may arrive between fragments, so the frame limit
		// never drops below their maximum size.
		limit := rd.MaxMessageSize
		if limit > 0 {
			limit = max(limit-int64(len(rd.message)), maxControlFramePayloadSize)
		}

		frame, err := ReadFrame(rd.r, limit)
		if err != nil {
			return 0, nil, err
		}
		if rd.FromClient && !frame.Masked {
			return 0, nil, ErrMissingMask
		}
		if !rd.FromClient && frame.Masked {
			return 0, nil, ErrUnexpectedMask
		}

		if frame.Opcode.IsControl() {
			return frame.Opcode, frame.Payload, nil
		}

		switch frame.Opcode {
		case OpContinuation:
			if !rd.pending {
				return 0, nil, ErrUnexpectedFragment
			}
		default:
			if rd.pending {
				return 0, nil, ErrInterleavedMessage
			}
			rd.opcode = frame.Opcode
			rd.message = rd.message[:0]
		}

		if rd.MaxMessageSize > 0 && int64(len(rd.message)+len(frame.Payload)) > rd.MaxMessageSize {
			return 0, nil, ErrMessageTooLarge
		}
		rd.message = append(rd.message, frame.Payload...)
		if !frame.Fin {
			rd.pending = true
			continue
		}

		rd.pending = false
		payload := make([]byte, len(rd.message))
		copy(payload, rd.message)
		rd.message = rd.message[:0]

		if rd.opcode == OpText && !utf8.Valid(payload) {
			return 0, nil, ErrInvalidUTF8
		}
		return rd.opcode, payload, nil
	}
}
