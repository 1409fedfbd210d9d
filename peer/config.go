package peer

import (
	"log"
	"time"

	"github.com/xtaci/ipcmux/handshake"
	"github.com/xtaci/ipcmux/schema"
)

// DefaultRecvOnBufferCap bounds the per-channel spill buffer
// maintained by RecvOn while waiting for a specific channel.
const DefaultRecvOnBufferCap = 64

// Config configures a Peer's operational behaviour after a successful
// handshake.
type Config struct {
	// ShutdownTimeout bounds how long Shutdown waits for a
	// shutdown_ack before force-closing.
	ShutdownTimeout time.Duration
	// PingTimeout bounds how long Ping waits for a pong. Defaults to
	// handshake.DefaultTimeout when zero; the Timeout of the
	// handshake.Config that opened the session is not consulted.
	PingTimeout time.Duration
	// RecvOnBufferCap bounds the per-channel spill buffer; zero means
	// DefaultRecvOnBufferCap.
	RecvOnBufferCap int
	// SchemaRegistry, if set, gates every inbound and outbound
	// application payload.
	SchemaRegistry *schema.Registry
	// Logger receives lifecycle diagnostics (successful handshakes,
	// phase transitions); nil means silent. A failed handshake is
	// returned as an error and not logged.
	Logger *log.Logger
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return handshake.DefaultTimeout
	}
	return c.ShutdownTimeout
}

func (c Config) pingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return handshake.DefaultTimeout
	}
	return c.PingTimeout
}

func (c Config) bufferCap() int {
	if c.RecvOnBufferCap <= 0 {
		return DefaultRecvOnBufferCap
	}
	return c.RecvOnBufferCap
}

func (c Config) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
