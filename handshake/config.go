package handshake

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtaci/ipcmux/frame"
)

// Bounded sizes enforced before any handshake byte crosses the wire.
const (
	MaxProtocolLen  = 32
	MaxVersionLen   = 16
	MaxPeerIDLen    = 128
	MaxAuthTokenLen = 4096
	MaxChannels     = 256
)

// DefaultTimeout bounds each blocking read step of the handshake.
const DefaultTimeout = 5 * time.Second

// Config configures one side of a handshake. Channels holds the
// requested set on the client side and the supported set on the server
// side. PeerID is not sent by the client (only its length is checked
// there) and, on the server, is the id
// assigned to the accepted peer (callers typically generate this from a
// PeerListener's counter).
type Config struct {
	Protocol              string
	Version               string
	Channels              []uint16
	AuthToken             string
	PeerID                string
	Timeout               time.Duration
	RequireChannelOverlap bool
}

// GoString redacts AuthToken the same way Result.String does.
func (c Config) GoString() string {
	return fmt.Sprintf("Config{Protocol:%s Version:%s Channels:%v PeerID:%s AuthTokenLen:%d Timeout:%s RequireChannelOverlap:%v}",
		c.Protocol, c.Version, c.Channels, c.PeerID, len(c.AuthToken), c.Timeout, c.RequireChannelOverlap)
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// validateLocal checks the bounded-size rules against this side's own
// configuration, before anything is sent or received. PeerID presence
// is not enforced here: it is meaningless on the client (ignored) and
// is checked explicitly by Server, whose own id must not be empty.
func (c Config) validateLocal() error {
	if len(c.Protocol) == 0 || len(c.Protocol) > MaxProtocolLen {
		return failf("protocol name length %d out of bounds (1..%d)", len(c.Protocol), MaxProtocolLen)
	}
	if len(c.Version) == 0 || len(c.Version) > MaxVersionLen {
		return failf("version length %d out of bounds (1..%d)", len(c.Version), MaxVersionLen)
	}
	if c.PeerID != "" && len(c.PeerID) > MaxPeerIDLen {
		return failf("peer id length %d exceeds %d", len(c.PeerID), MaxPeerIDLen)
	}
	if len(c.AuthToken) > MaxAuthTokenLen {
		return failf("auth token length %d exceeds %d", len(c.AuthToken), MaxAuthTokenLen)
	}
	return nil
}

// optionalString returns nil for an empty string and a pointer to s
// otherwise, so a locally-configured empty token is sent as an absent
// wire field rather than an explicit present-but-empty one.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// stringOrEmpty dereferences an optional wire string, treating an
// absent field as "".
func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// validateWireAuthToken enforces the rule an incoming Request must
// satisfy: a present auth_token field must be non-empty. An absent
// field (no credential offered) is fine.
func validateWireAuthToken(token *string) error {
	if token == nil {
		return nil
	}
	if *token == "" {
		return failf("auth token present but empty")
	}
	if len(*token) > MaxAuthTokenLen {
		return failf("auth token length %d exceeds %d", len(*token), MaxAuthTokenLen)
	}
	return nil
}

// validatePeerID enforces that a peer id is present and within bounds.
// Used for the server's own assigned id and for the id the client
// receives back from the server.
func validatePeerID(id string) error {
	if id == "" {
		return failf("peer id must not be empty")
	}
	if len(id) > MaxPeerIDLen {
		return failf("peer id length %d exceeds %d", len(id), MaxPeerIDLen)
	}
	return nil
}

// normalizeChannels rejects CONTROL, rejects an oversize list, and
// dedupes while preserving first occurrence order.
func normalizeChannels(channels []uint16) ([]uint16, error) {
	if len(channels) > MaxChannels {
		return nil, failf("channel list length %d exceeds %d", len(channels), MaxChannels)
	}
	seen := make(map[uint16]bool, len(channels))
	out := make([]uint16, 0, len(channels))
	for _, ch := range channels {
		if ch == frame.Control {
			return nil, failf("CONTROL channel may not be requested or supported explicitly")
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out, nil
}

// intersectPreservingOrder returns the channels of requested that are
// also present in supported, preserving the order of requested.
func intersectPreservingOrder(requested, supported []uint16) []uint16 {
	supportedSet := make(map[uint16]bool, len(supported))
	for _, ch := range supported {
		supportedSet[ch] = true
	}
	out := make([]uint16, 0, len(requested))
	for _, ch := range requested {
		if supportedSet[ch] {
			out = append(out, ch)
		}
	}
	return out
}

// isSubset reports whether every element of subset appears in superset.
func isSubset(subset, superset []uint16) bool {
	supersetSet := make(map[uint16]bool, len(superset))
	for _, ch := range superset {
		supersetSet[ch] = true
	}
	for _, ch := range subset {
		if !supersetSet[ch] {
			return false
		}
	}
	return true
}

// parseVersion splits a "<major>.<minor>" string into its two uint16 parts.
func parseVersion(v string) (major, minor uint16, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, failf("malformed version %q", v)
	}
	maj, err1 := strconv.ParseUint(parts[0], 10, 16)
	min, err2 := strconv.ParseUint(parts[1], 10, 16)
	if err1 != nil || err2 != nil {
		return 0, 0, failf("malformed version %q", v)
	}
	return uint16(maj), uint16(min), nil
}

// versionCompatible implements the single compatibility rule used by
// both sides: majors equal, and the remote minor is >= the local minor.
func versionCompatible(localVersion, remoteVersion string) (bool, error) {
	localMajor, localMinor, err := parseVersion(localVersion)
	if err != nil {
		return false, err
	}
	remoteMajor, remoteMinor, err := parseVersion(remoteVersion)
	if err != nil {
		return false, err
	}
	return localMajor == remoteMajor && remoteMinor >= localMinor, nil
}
