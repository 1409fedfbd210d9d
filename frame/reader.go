package frame

import (
	"bytes"
	"errors"
	"io"
	"syscall"
)

// isInterrupted reports whether err is an EINTR-equivalent retryable
// error. Only this condition is retried on reads; WouldBlock and every
// other I/O error propagate to the caller.
func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

// isRetryableWrite reports whether err should be retried inside a write
// or flush loop: both EINTR and EAGAIN/EWOULDBLOCK are retried on writes.
func isRetryableWrite(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// Reader wraps an io.Reader and assembles length-prefixed frames from it,
// buffering any bytes read past a frame boundary for the next call.
type Reader struct {
	r          io.Reader
	buf        bytes.Buffer
	maxPayload uint32
	scratch    [4096]byte
}

// NewReader constructs a Reader with the given payload cap. maxPayload
// may be raised later with SetMaxPayload once a handshake completes.
func NewReader(r io.Reader, maxPayload uint32) *Reader {
	return &Reader{r: r, maxPayload: maxPayload}
}

// SetMaxPayload adjusts the decode-time payload cap, used to widen the
// handshake cap to the operational cap after negotiation.
func (fr *Reader) SetMaxPayload(n uint32) { fr.maxPayload = n }

// ReadFrame blocks until one full frame is available, the stream is
// closed, or a fatal error occurs. It never returns a partial frame.
func (fr *Reader) ReadFrame() (Frame, error) {
	for {
		if f, consumed, ok, err := Decode(fr.buf.Bytes(), fr.maxPayload); err != nil {
			return Frame{}, err
		} else if ok {
			fr.buf.Next(consumed)
			return f, nil
		}

		n, err := fr.r.Read(fr.scratch[:])
		if n > 0 {
			fr.buf.Write(fr.scratch[:n])
		}
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			if err == io.EOF {
				return Frame{}, &Error{Kind: ConnectionClosed, Err: err}
			}
			return Frame{}, &Error{Kind: IO, Err: err}
		}
		if n == 0 {
			return Frame{}, &Error{Kind: ConnectionClosed}
		}
	}
}
