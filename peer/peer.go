// Package peer implements the peer session: the negotiated,
// multiplexed runtime that routes frames across application channels,
// drives the control-plane state machine inline from recv/ping/
// shutdown calls, and gates payloads through an optional schema
// registry.
package peer

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/ipcmux/frame"
	"github.com/xtaci/ipcmux/handshake"
	"github.com/xtaci/ipcmux/transport"
)

type phase int32

const (
	phaseOpen phase = iota
	phaseShutdownLocal
	phaseShutdownRemote
	phaseClosed
)

// Peer is one end of an open, post-handshake connection. It is not
// safe for concurrent Send or concurrent Recv-family calls; Close may
// be called from another goroutine to unblock a pending call with a
// Disconnected error.
type Peer struct {
	id          string
	readStream  *transport.Stream
	writeStream *transport.Stream
	fr          *frame.Reader
	fw          *frame.Writer
	result      handshake.Result
	cfg         Config
	channels    map[uint16]bool
	order       []uint16

	mu          sync.Mutex
	ph          phase
	buffers     map[uint16][]frame.Frame
	pingPending bool
	pingSentAt  time.Time
	lastPingRTT time.Duration

	closeOnce sync.Once
	snmp      Snmp
}

// fromParts assembles a Peer from its already-negotiated pieces; used
// by both Connect and a PeerListener's Accept.
func fromParts(id string, readStream, writeStream *transport.Stream, fr *frame.Reader, fw *frame.Writer, result handshake.Result, cfg Config) *Peer {
	channels := make(map[uint16]bool, len(result.NegotiatedChannels))
	for _, ch := range result.NegotiatedChannels {
		channels[ch] = true
	}
	return &Peer{
		id:          id,
		readStream:  readStream,
		writeStream: writeStream,
		fr:          fr,
		fw:          fw,
		result:      result,
		cfg:         cfg,
		channels:    channels,
		order:       append([]uint16(nil), result.NegotiatedChannels...),
		buffers:     make(map[uint16][]frame.Frame),
	}
}

// Connect dials path, runs the client handshake, and returns an open
// Peer. Reads and writes run over distinct cloned handles of the same
// underlying connection, the way the session is designed.
func Connect(path string, hcfg handshake.Config, cfg Config) (*Peer, error) {
	readStream, err := transport.Connect(path, cfg.Logger)
	if err != nil {
		return nil, &Error{Kind: Transport, Err: err}
	}
	writeStream, err := readStream.TryClone()
	if err != nil {
		readStream.Close()
		return nil, &Error{Kind: Transport, Err: err}
	}
	fr := frame.NewReader(readStream, frame.HandshakeMaxPayload)
	fw := frame.NewWriter(writeStream, frame.HandshakeMaxPayload)

	result, err := handshake.Client(readStream, fr, fw, hcfg)
	if err != nil {
		readStream.Close()
		writeStream.Close()
		return nil, wrapHandshakeErr(err)
	}
	cfg.logf("peer: connected id=%s channels=%v", result.PeerID, result.NegotiatedChannels)
	return fromParts(result.PeerID, readStream, writeStream, fr, fw, result, cfg), nil
}

// ID returns the peer id assigned during the handshake.
func (p *Peer) ID() string { return p.id }

// Channels returns the negotiated channel set.
func (p *Peer) Channels() []uint16 { return append([]uint16(nil), p.order...) }

// SupportsChannel reports whether channel is in the negotiated set.
func (p *Peer) SupportsChannel(channel uint16) bool { return p.channels[channel] }

// HandshakeResult returns the negotiation outcome this session was seeded with.
func (p *Peer) HandshakeResult() handshake.Result { return p.result }

// PeerCredentials returns the connected process's credentials where the OS exposes them.
func (p *Peer) PeerCredentials() (uid, gid uint32, pid int32, ok bool) {
	return p.readStream.PeerCredentials()
}

// Stats returns a point-in-time snapshot of this session's counters.
func (p *Peer) Stats() Stats { return p.snmp.Copy() }

// ResetStats zeroes this session's counters.
func (p *Peer) ResetStats() { p.snmp.Reset() }

func (p *Peer) getPhase() phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ph
}

func (p *Peer) setPhase(ph phase) {
	names := [...]string{"open", "shutdown_requested_local", "shutdown_requested_remote", "closed"}
	p.mu.Lock()
	prev := p.ph
	p.ph = ph
	p.mu.Unlock()
	if prev != ph {
		p.cfg.logf("peer: id=%s phase=%s -> %s", p.id, names[prev], names[ph])
	}
}

// Send writes payload on channel, subject to the negotiated channel
// set and, if attached, the schema registry.
func (p *Peer) Send(channel uint16, payload []byte) error {
	if p.getPhase() == phaseClosed {
		return &Error{Kind: Disconnected, Detail: "session closed"}
	}
	if !p.channels[channel] {
		return &Error{Kind: UnsupportedChannel, Channel: channel}
	}
	if p.cfg.SchemaRegistry != nil {
		if err := p.cfg.SchemaRegistry.Validate(channel, payload); err != nil {
			return &Error{Kind: Schema, Channel: channel, Err: err}
		}
	}
	if err := p.fw.WriteFrame(channel, payload); err != nil {
		// A PayloadTooLarge rejection happens before any byte is
		// written and leaves the stream intact; only a genuine I/O
		// failure tears the session down.
		if !isPayloadTooLarge(err) {
			p.failClosed()
		}
		return wrapFrameErr(err)
	}
	p.snmp.incSent(len(payload))
	return nil
}

// Recv returns the next frame on any negotiated application channel,
// dispatching control-plane frames internally without returning them.
func (p *Peer) Recv() (frame.Frame, error) {
	return p.nextFrame(nil)
}

// RecvOn returns the next frame on channel specifically, buffering any
// application frame seen on another negotiated channel in the
// meantime. Returns BufferFull if that channel's spill buffer is
// already at capacity.
func (p *Peer) RecvOn(channel uint16) (frame.Frame, error) {
	return p.nextFrame(&channel)
}

// Request sends payload on channel and blocks for the next frame on
// that same channel, a convenience for simple request/response use.
func (p *Peer) Request(channel uint16, payload []byte) (frame.Frame, error) {
	if err := p.Send(channel, payload); err != nil {
		return frame.Frame{}, err
	}
	return p.RecvOn(channel)
}

func (p *Peer) nextFrame(filterChannel *uint16) (frame.Frame, error) {
	for {
		if p.getPhase() == phaseClosed {
			return frame.Frame{}, &Error{Kind: Disconnected, Detail: "session closed"}
		}

		if f, ok := p.takeBuffered(filterChannel); ok {
			// Frames buffered by Ping or Shutdown have not been checked yet.
			if p.cfg.SchemaRegistry != nil {
				if serr := p.cfg.SchemaRegistry.ValidateFrame(f); serr != nil {
					return frame.Frame{}, &Error{Kind: Schema, Channel: f.Channel, Err: serr}
				}
			}
			p.snmp.incRecv(len(f.Payload))
			return f, nil
		}

		f, err := p.fr.ReadFrame()
		if err != nil {
			p.failClosed()
			return frame.Frame{}, wrapFrameErr(err)
		}

		if f.Channel == frame.Control {
			closing, err := p.handleControl(f)
			if err != nil {
				return frame.Frame{}, err
			}
			if closing {
				return frame.Frame{}, &Error{Kind: Disconnected, Detail: "session closed"}
			}
			continue
		}

		if p.cfg.SchemaRegistry != nil {
			if serr := p.cfg.SchemaRegistry.ValidateFrame(f); serr != nil {
				return frame.Frame{}, &Error{Kind: Schema, Channel: f.Channel, Err: serr}
			}
		}

		if filterChannel != nil && f.Channel != *filterChannel {
			if err := p.bufferFrame(f); err != nil {
				return frame.Frame{}, err
			}
			continue
		}

		p.snmp.incRecv(len(f.Payload))
		return f, nil
	}
}

func (p *Peer) takeBuffered(filterChannel *uint16) (frame.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if filterChannel != nil {
		buf := p.buffers[*filterChannel]
		if len(buf) == 0 {
			return frame.Frame{}, false
		}
		f := buf[0]
		p.buffers[*filterChannel] = buf[1:]
		return f, true
	}
	for ch, buf := range p.buffers {
		if len(buf) > 0 {
			f := buf[0]
			p.buffers[ch] = buf[1:]
			return f, true
		}
	}
	return frame.Frame{}, false
}

func (p *Peer) bufferFrame(f frame.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := p.buffers[f.Channel]
	if len(buf) >= p.cfg.bufferCap() {
		p.snmp.incBufferDrop()
		return &Error{Kind: BufferFull, Channel: f.Channel}
	}
	p.buffers[f.Channel] = append(buf, f)
	return nil
}

// handleControl dispatches one CONTROL-channel frame. closing reports
// that the session has now transitioned to closed as a result.
func (p *Peer) handleControl(f frame.Frame) (closing bool, err error) {
	var msg ControlMessage
	if uerr := json.Unmarshal(f.Payload, &msg); uerr != nil {
		return false, &Error{Kind: JSON, Err: uerr}
	}
	p.snmp.incControl()

	switch msg.Type {
	case TypePing:
		data, _ := encodeControl(TypePong)
		if werr := p.fw.WriteFrame(frame.Control, data); werr != nil {
			return false, wrapFrameErr(werr)
		}
	case TypePong:
		p.mu.Lock()
		if p.pingPending {
			p.lastPingRTT = time.Since(p.pingSentAt)
			p.pingPending = false
		}
		p.mu.Unlock()
	case TypeShutdownRequest:
		p.setPhase(phaseShutdownRemote)
		data, _ := encodeControl(TypeShutdownAck)
		_ = p.fw.WriteFrame(frame.Control, data)
		p.setPhase(phaseClosed)
		p.closeStreams()
		return true, nil
	case TypeShutdownAck:
		if p.getPhase() == phaseShutdownLocal {
			p.setPhase(phaseClosed)
			p.closeStreams()
			return true, nil
		}
	case TypeShutdownForce:
		p.setPhase(phaseClosed)
		p.closeStreams()
		return true, &Error{Kind: Disconnected, Detail: "shutdown_force received"}
	default:
		// unknown type: ignore for forward compatibility
	}
	return false, nil
}

// Ping sends a control ping and blocks for the matching pong, returning
// the wall-clock round trip.
func (p *Peer) Ping() (time.Duration, error) {
	if p.getPhase() == phaseClosed {
		return 0, &Error{Kind: Disconnected}
	}
	data, _ := encodeControl(TypePing)
	p.mu.Lock()
	p.pingPending = true
	p.pingSentAt = time.Now()
	p.mu.Unlock()

	if err := p.fw.WriteFrame(frame.Control, data); err != nil {
		p.failClosed()
		return 0, wrapFrameErr(err)
	}

	timeout := p.cfg.pingTimeout()
	_ = p.readStream.SetReadTimeout(timeout)
	defer p.readStream.SetReadTimeout(0)

	for {
		p.mu.Lock()
		pending := p.pingPending
		rtt := p.lastPingRTT
		p.mu.Unlock()
		if !pending {
			return rtt, nil
		}
		if p.getPhase() == phaseClosed {
			return 0, &Error{Kind: Disconnected}
		}

		f, err := p.fr.ReadFrame()
		if err != nil {
			if isTimeoutErr(err) {
				return 0, &Error{Kind: Timeout, Duration: timeout}
			}
			p.failClosed()
			return 0, wrapFrameErr(err)
		}
		if f.Channel != frame.Control {
			if err := p.bufferFrame(f); err != nil {
				return 0, err
			}
			continue
		}
		closing, err := p.handleControl(f)
		if err != nil {
			return 0, err
		}
		if closing {
			return 0, &Error{Kind: Disconnected}
		}
	}
}

// Shutdown requests a graceful close: it sends shutdown_request and
// waits up to the configured shutdown timeout for shutdown_ack. On
// timeout it sends shutdown_force, closes locally, and returns
// ShutdownFailed.
func (p *Peer) Shutdown() error {
	if p.getPhase() == phaseClosed {
		return nil
	}
	p.setPhase(phaseShutdownLocal)
	data, _ := encodeControl(TypeShutdownRequest)
	if err := p.fw.WriteFrame(frame.Control, data); err != nil {
		p.failClosed()
		return wrapFrameErr(err)
	}

	timeout := p.cfg.shutdownTimeout()
	_ = p.readStream.SetReadTimeout(timeout)
	defer p.readStream.SetReadTimeout(0)

	for {
		if p.getPhase() == phaseClosed {
			return nil
		}
		f, err := p.fr.ReadFrame()
		if err != nil {
			if isTimeoutErr(err) {
				force, _ := encodeControl(TypeShutdownForce)
				_ = p.fw.WriteFrame(frame.Control, force)
				p.setPhase(phaseClosed)
				p.closeStreams()
				return &Error{Kind: ShutdownFailed, Detail: "timed out waiting for shutdown_ack"}
			}
			p.setPhase(phaseClosed)
			p.closeStreams()
			return nil
		}
		if f.Channel != frame.Control {
			if err := p.bufferFrame(f); err != nil {
				return err
			}
			continue
		}
		if _, err := p.handleControl(f); err != nil {
			return err
		}
	}
}

// Close releases resources immediately without any protocol exchange.
// Safe to call concurrently with a blocked Recv/RecvOn/Ping/Shutdown to
// cancel them.
func (p *Peer) Close() error {
	p.setPhase(phaseClosed)
	p.closeStreams()
	return nil
}

func (p *Peer) closeStreams() {
	p.closeOnce.Do(func() {
		p.readStream.Close()
		p.writeStream.Close()
	})
}

func (p *Peer) failClosed() {
	p.setPhase(phaseClosed)
	p.closeStreams()
}

func wrapFrameErr(err error) *Error {
	// I/O on a handle already closed by Close surfaces as Disconnected.
	if errors.Is(err, net.ErrClosed) {
		return &Error{Kind: Disconnected, Err: err}
	}
	var fe *frame.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case frame.ConnectionClosed:
			return &Error{Kind: Disconnected, Err: err}
		case frame.InvalidMagic, frame.PayloadTooLarge:
			return &Error{Kind: Frame, Err: err}
		}
	}
	return &Error{Kind: Frame, Err: err}
}

func isPayloadTooLarge(err error) bool {
	var fe *frame.Error
	return errors.As(err, &fe) && fe.Kind == frame.PayloadTooLarge
}

// wrapHandshakeErr classifies a handshake-phase error for the peer's
// own taxonomy, preserving a connection-closed-mid-handshake outcome
// as Disconnected instead of blanket-labelling every failure
// HandshakeFailed.
func wrapHandshakeErr(err error) *Error {
	var he *handshake.Error
	if errors.As(err, &he) && he.Kind == handshake.Disconnected {
		return &Error{Kind: Disconnected, Err: err}
	}
	return &Error{Kind: HandshakeFailed, Err: err}
}

func isTimeoutErr(err error) bool {
	var fe *frame.Error
	if errors.As(err, &fe) && fe.Kind == frame.IO {
		type timeouter interface{ Timeout() bool }
		var t timeouter
		if errors.As(fe.Err, &t) {
			return t.Timeout()
		}
	}
	return false
}
