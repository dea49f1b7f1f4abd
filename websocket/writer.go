package websocket

import "io"

// MaxFramePayloadSize is the fragment size used by WriteMessage.
var MaxFramePayloadSize = 16 * 1024

// WriteMessage writes data as one message, split into continuation frames
// when it exceeds MaxFramePayloadSize. Client messages must be masked and
// every frame gets its own key.
func WriteMessage(w io.Writer, op Opcode, data []byte, masked bool) error {
	if op.IsControl() || len(data) <= MaxFramePayloadSize {
		return writeFrame(w, op, true, data, masked)
	}

	sendOpcode := true
	for len(data) > 0 {
		n := min(len(data), MaxFramePayloadSize)
		frameOp := OpContinuation
		if sendOpcode {
			frameOp = op
		}
		if err := writeFrame(w, frameOp, n == len(data), data[:n], masked); err != nil {
			return err
		}
		sendOpcode = false
		data = data[n:]
	}
	return nil
}

func writeFrame(w io.Writer, op Opcode, fin bool, data []byte, masked bool) error {
	frame := Frame{
		Fin:     fin,
		Opcode:  op,
		Masked:  masked,
		Payload: data,
	}
	if masked {
		frame.Mask = NewMask()
	}
	return WriteFrame(w, frame)
}
