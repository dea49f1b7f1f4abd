package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestAcceptKey(t *testing.T) {
	// RFC 6455, section 1.3
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	if got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("unexpected accept key %q", got)
	}
}

func TestValidKey(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidKey(key) {
		t.Errorf("generated key %q rejected", key)
	}
	for _, key := range []string{"", "short", "dGhlIHNhbXBsZQ=="} {
		if ValidKey(key) {
			t.Errorf("key %q should be rejected", key)
		}
	}
}

func TestFrameLengths(t *testing.T) {
	for _, size := range []int{0, 1, 125, 126, 65535, 65536, 70000} {
		payload := bytes.Repeat([]byte{'x'}, size)

		var buf bytes.Buffer
		mask := [4]byte{1, 2, 3, 4}
		if err := WriteFrame(&buf, Frame{Fin: true, Opcode: OpBinary, Masked: true, Mask: mask, Payload: payload}); err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if size > 0 && payload[0] != 'x' {
			t.Fatalf("size %d: caller payload was modified", size)
		}

		frame, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if !frame.Fin || frame.Opcode != OpBinary || !frame.Masked || frame.Mask != mask {
			t.Errorf("size %d: unexpected frame header %+v", size, frame)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Errorf("size %d: payload mismatch", size)
		}
	}
}

func TestReadFrameRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		err  error
	}{
		{"reserved bit", []byte{0x80 | 0x40 | 0x1, 0x00}, ErrReserveBitSet},
		{"reserved opcode", []byte{0x80 | 0x3, 0x00}, ErrReservedOpcode},
		{"fragmented ping", []byte{0x9, 0x00}, ErrInvalidControlFrame},
		{"long ping", []byte{0x80 | 0x9, 126, 0x00, 0x7E}, ErrInvalidControlFrame},
		{"one byte close", []byte{0x80 | 0x8, 0x01, 0x03}, ErrInvalidControlFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.raw), 0)
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("expected a protocol error, got %v", err)
			}
		})
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpText, Payload: make([]byte, 200)})

	if _, err := ReadFrame(&buf, 100); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReadFrameHugeDeclaredLength(t *testing.T) {
	header := []byte{0x82, 0xFF}
	header = binary.BigEndian.AppendUint64(header, 1<<46)
	header = append(header, 1, 2, 3, 4)
	stream := io.MultiReader(bytes.NewReader(header), bytes.NewReader([]byte("only a few bytes")))

	if _, err := ReadFrame(stream, 0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrameLargePayload(t *testing.T) {
	payload := make([]byte, 3*payloadReadStep+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Fin: true, Opcode: OpBinary, Masked: true, Mask: NewMask(), Payload: append([]byte(nil), payload...)}); err != nil {
		t.Fatal(err)
	}

	frame, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, frame.Payload) {
		t.Error("payload changed in transit")
	}
}

func TestReaderReassemblesFragments(t *testing.T) {
	var buf bytes.Buffer
	mask := [4]byte{9, 8, 7, 6}
	WriteFrame(&buf, Frame{Opcode: OpText, Masked: true, Mask: mask, Payload: []byte("hel")})
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpPing, Masked: true, Mask: mask, Payload: []byte("p")})
	WriteFrame(&buf, Frame{Opcode: OpContinuation, Masked: true, Mask: mask, Payload: []byte("lo ")})
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpContinuation, Masked: true, Mask: mask, Payload: []byte("world")})

	rd := NewReader(&buf, true, 0)

	op, payload, err := rd.NextMessage()
	if err != nil {
		t.Fatal(err)
	}
	if op != OpPing || string(payload) != "p" {
		t.Errorf("expected interleaved ping, got %v %q", op, payload)
	}

	op, payload, err = rd.NextMessage()
	if err != nil {
		t.Fatal(err)
	}
	if op != OpText || string(payload) != "hello world" {
		t.Errorf("expected reassembled text, got %v %q", op, payload)
	}

	if _, _, err := rd.NextMessage(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderMaskingRules(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpText, Payload: []byte("plain")})
	if _, _, err := NewReader(&buf, true, 0).NextMessage(); !errors.Is(err, ErrMissingMask) {
		t.Errorf("expected ErrMissingMask, got %v", err)
	}

	buf.Reset()
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpText, Masked: true, Mask: NewMask(), Payload: []byte("masked")})
	if _, _, err := NewReader(&buf, false, 0).NextMessage(); !errors.Is(err, ErrUnexpectedMask) {
		t.Errorf("expected ErrUnexpectedMask, got %v", err)
	}
}

func TestReaderProtocolErrors(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpContinuation, Payload: []byte("x")})
	if _, _, err := NewReader(&buf, false, 0).NextMessage(); !errors.Is(err, ErrUnexpectedFragment) {
		t.Errorf("expected ErrUnexpectedFragment, got %v", err)
	}

	buf.Reset()
	WriteFrame(&buf, Frame{Opcode: OpText, Payload: []byte("a")})
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpBinary, Payload: []byte("b")})
	if _, _, err := NewReader(&buf, false, 0).NextMessage(); !errors.Is(err, ErrInterleavedMessage) {
		t.Errorf("expected ErrInterleavedMessage, got %v", err)
	}

	buf.Reset()
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpText, Payload: []byte{0xff, 0xfe}})
	_, _, err := NewReader(&buf, false, 0).NextMessage()
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
	if CloseCodeFor(err) != CloseInvalidPayload {
		t.Errorf("expected close code %d, got %d", CloseInvalidPayload, CloseCodeFor(err))
	}
}

func TestReaderMessageLimit(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, Frame{Opcode: OpBinary, Payload: make([]byte, 60)})
	WriteFrame(&buf, Frame{Fin: true, Opcode: OpContinuation, Payload: make([]byte, 60)})

	_, _, err := NewReader(&buf, false, 100).NextMessage()
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if CloseCodeFor(err) != CloseMessageTooBig {
		t.Errorf("expected close code %d, got %d", CloseMessageTooBig, CloseCodeFor(err))
	}
}

func TestWriteMessageFragments(t *testing.T) {
	defer func(size int) { MaxFramePayloadSize = size }(MaxFramePayloadSize)
	MaxFramePayloadSize = 4

	var buf bytes.Buffer
	if err := WriteMessage(&buf, OpText, []byte("0123456789"), true); err != nil {
		t.Fatal(err)
	}

	var frames []Frame
	for buf.Len() > 0 {
		frame, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, frame)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Opcode != OpText || frames[1].Opcode != OpContinuation || frames[2].Opcode != OpContinuation {
		t.Errorf("unexpected opcodes %v %v %v", frames[0].Opcode, frames[1].Opcode, frames[2].Opcode)
	}
	if frames[0].Fin || frames[1].Fin || !frames[2].Fin {
		t.Error("only the last fragment should carry FIN")
	}
	for _, frame := range frames {
		if !frame.Masked {
			t.Error("client fragments must be masked")
		}
	}
}

func TestClosePayload(t *testing.T) {
	code, reason, err := ParseClose(FormatClose(CloseGoingAway, "shutdown"))
	if err != nil {
		t.Fatal(err)
	}
	if code != CloseGoingAway || reason != "shutdown" {
		t.Errorf("unexpected close %d %q", code, reason)
	}

	if code, _, err := ParseClose(nil); err != nil || code != CloseNoStatusReceived {
		t.Errorf("empty close payload: %d %v", code, err)
	}
	if _, _, err := ParseClose([]byte{0x03, 0xED}); !errors.Is(err, ErrInvalidCloseCode) {
		t.Errorf("1005 on the wire should be rejected, got %v", err)
	}
	if len(FormatClose(CloseNoStatusReceived, "")) != 0 {
		t.Error("1005 must not be sent")
	}
}
