package http

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// ChunkedReader decodes a Transfer-Encoding: chunked body. Chunk extensions
// and trailers are read and discarded.
type ChunkedReader struct {
	br       *bufio.Reader
	remain   int64
	finished bool
	err      error
}

func NewChunkedReader(br *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{br: br, remain: -1}
}

func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if cr.finished {
		return 0, io.EOF
	}

	// If no remaining bytes in current chunk, read next chunk size
	if cr.remain <= 0 {
		size, err := cr.readChunkSize()
		if err != nil {
			return 0, cr.fail(err)
		}
		if size == 0 {
			if err := cr.readTrailers(); err != nil {
				return 0, cr.fail(err)
			}
			cr.finished = true
			return 0, io.EOF
		}
		cr.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}

	toRead := int64(len(p))
	if toRead > cr.remain {
		toRead = cr.remain
	}
	n, err := io.ReadFull(cr.br, p[:toRead])
	cr.remain -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, cr.fail(err)
	}

	if cr.remain == 0 {
		if err := cr.expectCRLF(); err != nil {
			return n, cr.fail(err)
		}
	}
	return n, nil
}

func (cr *ChunkedReader) fail(err error) error {
	cr.err = err
	return err
}

func (cr *ChunkedReader) readLine() ([]byte, error) {
	line, err := cr.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull || len(line) > MaxChunkLineSize {
		return nil, fmt.Errorf("%w: line too long", ErrChunkFormat)
	}
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (cr *ChunkedReader) readChunkSize() (int64, error) {
	line, err := cr.readLine()
	if err != nil {
		return 0, err
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)

	size, err := parseHex(line)
	if err != nil {
		return 0, fmt.Errorf("%w: chunk size %q", ErrChunkFormat, line)
	}
	return size, nil
}

func (cr *ChunkedReader) expectCRLF() error {
	var buf [2]byte
	if _, err := io.ReadFull(cr.br, buf[:]); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if buf[0] != '\r' || buf[1] != '\n' {
		return fmt.Errorf("%w: expected CRLF after chunk, got %q", ErrChunkFormat, buf[:])
	}
	return nil
}

func (cr *ChunkedReader) readTrailers() error {
	for {
		line, err := cr.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}

// ChunkedWriter frames every Write as one chunk. Close writes the last chunk
// but does not close the underlying writer.
type ChunkedWriter struct {
	w      io.Writer
	closed bool
}

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, ErrConnClosed
	}
	// A zero sized chunk would end the body.
	if len(p) == 0 {
		return 0, nil
	}

	var sizeBuf [16]byte
	n := writeHexToBuffer(len(p), sizeBuf[:])

	frame := make([]byte, 0, n+len(p)+4)
	frame = append(frame, sizeBuf[:n]...)
	frame = append(frame, crlf...)
	frame = append(frame, p...)
	frame = append(frame, crlf...)

	if _, err := cw.w.Write(frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (cw *ChunkedWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	_, err := cw.w.Write(chunkEndBytes)
	return err
}
