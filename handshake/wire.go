package handshake

import "fmt"

// Request is the client's sole CONTROL-channel message, sent once per
// session before any application traffic. AuthToken is a pointer so a
// present-but-empty token is distinguishable on the wire from one
// omitted entirely; the former is a protocol violation, the latter
// means no credential was offered.
type Request struct {
	Protocol  string   `json:"protocol"`
	Version   string   `json:"version"`
	Channels  []uint16 `json:"channels"`
	AuthToken *string  `json:"auth_token,omitempty"`
}

// Response is the server's reply to a Request.
type Response struct {
	Protocol string   `json:"protocol"`
	Version  string   `json:"version"`
	Channels []uint16 `json:"channels"`
	PeerID   string   `json:"peer_id"`
}

// Result is what each side retains once negotiation succeeds.
type Result struct {
	PeerID             string
	ProtocolVersion    string
	NegotiatedChannels []uint16
	// ClientAuthToken is empty on the client side (it already knows what
	// it sent) and carries the client's presented token, verbatim, on
	// the server side.
	ClientAuthToken string
}

// String renders Result without exposing the auth token value, only its
// byte length, per the redaction requirement on any diagnostic output.
func (r Result) String() string {
	return fmt.Sprintf("Result{PeerID:%s ProtocolVersion:%s NegotiatedChannels:%v ClientAuthTokenLen:%d}",
		r.PeerID, r.ProtocolVersion, r.NegotiatedChannels, len(r.ClientAuthToken))
}
