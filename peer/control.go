package peer

import "encoding/json"

// Well-known ControlMessage.Type values.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeShutdownRequest = "shutdown_request"
	TypeShutdownAck     = "shutdown_ack"
	TypeShutdownForce   = "shutdown_force"
)

// ControlMessage is the JSON payload carried on the CONTROL channel.
type ControlMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func newControl(t string) ControlMessage { return ControlMessage{Type: t} }

func encodeControl(t string) ([]byte, error) {
	return json.Marshal(newControl(t))
}
