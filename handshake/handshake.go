// Package handshake implements the single request/response exchange,
// carried as JSON over the reserved CONTROL channel, that negotiates
// protocol version, channels, and an assigned peer identity before a
// session begins ordinary traffic.
package handshake

import (
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/ipcmux/frame"
)

// Deadliner is implemented by the stream a Reader/Writer pair runs
// over; it lets the handshake bound each blocking read without this
// package depending on the transport package directly.
type Deadliner interface {
	SetReadTimeout(d time.Duration) error
}

// Client runs the client side of the handshake over fr/fw (which must
// already be bound to the handshake payload cap) and, on success,
// raises both to the operational cap before returning.
func Client(stream Deadliner, fr *frame.Reader, fw *frame.Writer, cfg Config) (Result, error) {
	if err := cfg.validateLocal(); err != nil {
		return Result{}, err
	}
	channels, err := normalizeChannels(cfg.Channels)
	if err != nil {
		return Result{}, err
	}

	req := Request{Protocol: cfg.Protocol, Version: cfg.Version, Channels: channels, AuthToken: optionalString(cfg.AuthToken)}
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, &Error{Kind: JSON, Err: err}
	}
	if err := fw.WriteFrame(frame.Control, payload); err != nil {
		return Result{}, errors.Wrap(err, "handshake: send request")
	}

	f, err := readControlFrame(stream, fr, cfg.timeout())
	if err != nil {
		return Result{}, err
	}

	var resp Response
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		return Result{}, &Error{Kind: JSON, Err: err}
	}
	if resp.Protocol != cfg.Protocol {
		return Result{}, failf("protocol mismatch: local=%q remote=%q", cfg.Protocol, resp.Protocol)
	}
	if err := validatePeerID(resp.PeerID); err != nil {
		return Result{}, err
	}
	ok, err := versionCompatible(cfg.Version, resp.Version)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, failf("version incompatible: local=%s remote=%s", cfg.Version, resp.Version)
	}
	if !isSubset(resp.Channels, channels) {
		return Result{}, failf("server negotiated channels %v not a subset of requested %v", resp.Channels, channels)
	}
	if cfg.RequireChannelOverlap && len(resp.Channels) == 0 {
		return Result{}, failf("no overlapping channels")
	}

	fr.SetMaxPayload(frame.DefaultMaxPayload)
	fw.SetMaxPayload(frame.DefaultMaxPayload)

	return Result{
		PeerID:             resp.PeerID,
		ProtocolVersion:    resp.Version,
		NegotiatedChannels: resp.Channels,
	}, nil
}

// Server runs the server side of the handshake over fr/fw and, on
// success, raises both to the operational cap before returning.
func Server(stream Deadliner, fr *frame.Reader, fw *frame.Writer, cfg Config) (Result, error) {
	if err := cfg.validateLocal(); err != nil {
		return Result{}, err
	}
	if err := validatePeerID(cfg.PeerID); err != nil {
		return Result{}, err
	}
	supported, err := normalizeChannels(cfg.Channels)
	if err != nil {
		return Result{}, err
	}

	f, err := readControlFrame(stream, fr, cfg.timeout())
	if err != nil {
		return Result{}, err
	}

	var req Request
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return Result{}, &Error{Kind: JSON, Err: err}
	}
	if req.Protocol != cfg.Protocol {
		return Result{}, failf("protocol mismatch: local=%q remote=%q", cfg.Protocol, req.Protocol)
	}
	ok, err := versionCompatible(cfg.Version, req.Version)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, failf("version incompatible: local=%s remote=%s", cfg.Version, req.Version)
	}
	if err := validateWireAuthToken(req.AuthToken); err != nil {
		return Result{}, err
	}
	requested, err := normalizeChannels(req.Channels)
	if err != nil {
		return Result{}, err
	}

	negotiated := intersectPreservingOrder(requested, supported)
	if cfg.RequireChannelOverlap && len(negotiated) == 0 {
		return Result{}, failf("no overlapping channels")
	}

	resp := Response{Protocol: cfg.Protocol, Version: cfg.Version, Channels: negotiated, PeerID: cfg.PeerID}
	payload, err := json.Marshal(resp)
	if err != nil {
		return Result{}, &Error{Kind: JSON, Err: err}
	}
	if err := fw.WriteFrame(frame.Control, payload); err != nil {
		return Result{}, errors.Wrap(err, "handshake: send response")
	}

	fr.SetMaxPayload(frame.DefaultMaxPayload)
	fw.SetMaxPayload(frame.DefaultMaxPayload)

	return Result{
		PeerID:             cfg.PeerID,
		ProtocolVersion:    cfg.Version,
		NegotiatedChannels: negotiated,
		ClientAuthToken:    stringOrEmpty(req.AuthToken),
	}, nil
}

func readControlFrame(stream Deadliner, fr *frame.Reader, timeout time.Duration) (frame.Frame, error) {
	if stream != nil {
		_ = stream.SetReadTimeout(timeout)
		defer stream.SetReadTimeout(0)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		if isTimeout(err) {
			return frame.Frame{}, &Error{Kind: Timeout, Err: err}
		}
		var fe *frame.Error
		if errors.As(err, &fe) {
			switch fe.Kind {
			case frame.ConnectionClosed:
				return frame.Frame{}, &Error{Kind: Disconnected, Err: err}
			case frame.PayloadTooLarge:
				return frame.Frame{}, &Error{Kind: Failed, Reason: "handshake payload exceeds maximum size", Err: err}
			}
		}
		return frame.Frame{}, errors.Wrap(err, "handshake: read frame")
	}
	if f.Channel != frame.Control {
		return frame.Frame{}, failf("unexpected channel %d on handshake exchange", f.Channel)
	}
	return f, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
