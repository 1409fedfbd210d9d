package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// Writer encodes frames and writes them fully to an underlying stream,
// retrying transient errors and flushing after each send.
type Writer struct {
	w          io.Writer
	maxPayload uint32
	hdr        [HeaderSize]byte
}

// NewWriter constructs a Writer with the given payload cap.
func NewWriter(w io.Writer, maxPayload uint32) *Writer {
	return &Writer{w: w, maxPayload: maxPayload}
}

// SetMaxPayload adjusts the encode-time payload cap.
func (fw *Writer) SetMaxPayload(n uint32) { fw.maxPayload = n }

// WriteFrame encodes and writes one frame, failing with a
// PayloadTooLarge error before any byte is written if the payload
// exceeds the configured maximum.
func (fw *Writer) WriteFrame(channel uint16, payload []byte) error {
	if uint64(len(payload)) > uint64(fw.maxPayload) {
		return &Error{Kind: PayloadTooLarge}
	}
	fw.hdr[0], fw.hdr[1] = magic[0], magic[1]
	binary.LittleEndian.PutUint32(fw.hdr[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint16(fw.hdr[6:8], channel)

	// A single vectorised writev(2) of the header and payload when the
	// stream supports it (e.g. *net.UnixConn); net.Buffers falls back
	// to sequential Write calls on any other io.Writer.
	bufs := net.Buffers{append([]byte(nil), fw.hdr[:]...), payload}
	if err := fw.writeAllVectorised(bufs); err != nil {
		return err
	}
	if f, ok := fw.w.(interface{ Flush() error }); ok {
		return fw.retryFlush(f.Flush)
	}
	return nil
}

func (fw *Writer) writeAllVectorised(bufs net.Buffers) error {
	for len(bufs) > 0 {
		n, err := bufs.WriteTo(fw.w)
		if err != nil {
			if isRetryableWrite(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return &Error{Kind: ConnectionClosed, Err: err}
			}
			return &Error{Kind: IO, Err: err}
		}
		if n == 0 && len(bufs) > 0 {
			return &Error{Kind: ConnectionClosed}
		}
	}
	return nil
}

func (fw *Writer) retryFlush(flush func() error) error {
	for {
		err := flush()
		if err == nil {
			return nil
		}
		if isRetryableWrite(err) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return &Error{Kind: ConnectionClosed, Err: err}
		}
		return &Error{Kind: IO, Err: err}
	}
}
