// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package frame implements the length-prefixed, channel-multiplexed wire
// format used by the peer session, and the buffered reader/writer that
// layer stream framing on top of it.
package frame

import "encoding/binary"

// Reserved channel identifiers. 5-255 are reserved for future control
// extensions; user channels start at 256.
const (
	Control   uint16 = 0
	Command   uint16 = 1
	Data      uint16 = 2
	Telemetry uint16 = 3
	Err       uint16 = 4
)

// HeaderSize is the fixed 8-byte frame header: 2 magic + 4 length + 2 channel.
const HeaderSize = 8

// DefaultMaxPayload is the operational payload cap restored after a
// successful handshake.
const DefaultMaxPayload = 16 * 1024 * 1024

// HandshakeMaxPayload is the tighter cap enforced before a peer has
// completed the handshake.
const HandshakeMaxPayload = 16 * 1024

var magic = [2]byte{'I', 'P'}

// Frame is an immutable wire message: a channel tag and its payload bytes.
type Frame struct {
	Channel uint16
	Payload []byte
}

// Encode appends the wire representation of f to dst and returns the
// extended slice. It fails with a PayloadTooLarge *Error if
// len(f.Payload) exceeds maxPayload (or math.MaxUint32).
func Encode(dst []byte, f Frame, maxPayload uint32) ([]byte, error) {
	n := len(f.Payload)
	if uint64(n) > uint64(maxPayload) {
		return dst, &Error{Kind: PayloadTooLarge}
	}
	var hdr [HeaderSize]byte
	hdr[0], hdr[1] = magic[0], magic[1]
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(n))
	binary.LittleEndian.PutUint16(hdr[6:8], f.Channel)
	dst = append(dst, hdr[:]...)
	dst = append(dst, f.Payload...)
	return dst, nil
}

// decodeResult distinguishes "need more bytes" from a decoded frame
// without allocating an extra error on the hot path.
type decodeResult int

const (
	decodeIncomplete decodeResult = iota
	decodeOK
)

// Decode attempts to decode one frame from the head of buf. It returns
// the decoded frame, the number of bytes consumed from buf, whether a
// frame was produced, and an error for fatal desync conditions
// (invalid magic, oversize length). Decode never returns a partial frame:
// ok is false with a nil error whenever buf holds fewer bytes than the
// frame requires.
func Decode(buf []byte, maxPayload uint32) (f Frame, consumed int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, false, nil
	}
	if buf[0] != magic[0] || buf[1] != magic[1] {
		return Frame{}, 0, false, &Error{Kind: InvalidMagic}
	}
	length := binary.LittleEndian.Uint32(buf[2:6])
	if length > maxPayload {
		return Frame{}, 0, false, &Error{Kind: PayloadTooLarge}
	}
	channel := binary.LittleEndian.Uint16(buf[6:8])
	total := HeaderSize + int(length)
	if len(buf) < total {
		return Frame{}, 0, false, nil
	}
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])
	return Frame{Channel: channel, Payload: payload}, total, true, nil
}
