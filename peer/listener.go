package peer

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/xtaci/ipcmux/frame"
	"github.com/xtaci/ipcmux/handshake"
	"github.com/xtaci/ipcmux/transport"
)

// PeerListener binds a Unix domain socket and accepts negotiated Peer
// sessions on it, assigning each accepted peer an auto-incrementing id
// unless the caller supplies one explicitly.
type PeerListener struct {
	ln     *transport.Listener
	hcfg   handshake.Config
	cfg    Config
	nextID uint64
}

// Listen binds path with the given permission mode and returns a
// PeerListener that will negotiate protocol/version/channels per hcfg
// and run accepted sessions under cfg.
func Listen(path string, mode os.FileMode, hcfg handshake.Config, cfg Config) (*PeerListener, error) {
	ln, err := transport.Bind(path, mode, cfg.Logger)
	if err != nil {
		return nil, &Error{Kind: Transport, Err: err}
	}
	return &PeerListener{ln: ln, hcfg: hcfg, cfg: cfg}, nil
}

// Addr returns the bound socket path.
func (pl *PeerListener) Addr() string { return pl.ln.Addr() }

// Close stops accepting and removes the socket path per the
// underlying transport.Listener's identity-checked cleanup.
func (pl *PeerListener) Close() error { return pl.ln.Close() }

// Accept blocks for the next inbound connection, runs the server
// handshake on it, and returns an open Peer with an auto-assigned id
// of the form "peer-<n>".
func (pl *PeerListener) Accept() (*Peer, error) {
	n := atomic.AddUint64(&pl.nextID, 1)
	return pl.AcceptWithID(fmt.Sprintf("peer-%d", n))
}

// AcceptWithID blocks for the next inbound connection and runs the
// server handshake, assigning it the given peer id instead of an
// auto-generated one. Reads and writes run over distinct cloned
// handles of the same accepted connection.
func (pl *PeerListener) AcceptWithID(id string) (*Peer, error) {
	readStream, err := pl.ln.Accept()
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

	hcfg := pl.hcfg
	hcfg.PeerID = id

	result, err := handshake.Server(readStream, fr, fw, hcfg)
	if err != nil {
		readStream.Close()
		writeStream.Close()
		return nil, wrapHandshakeErr(err)
	}
	pl.cfg.logf("peer: accepted id=%s channels=%v", result.PeerID, result.NegotiatedChannels)
	return fromParts(result.PeerID, readStream, writeStream, fr, fw, result, pl.cfg), nil
}
