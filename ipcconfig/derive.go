package ipcconfig

import (
	"log"
	"os"
	"time"

	"github.com/xtaci/ipcmux/handshake"
	"github.com/xtaci/ipcmux/peer"
	"github.com/xtaci/ipcmux/schema"
)

// HandshakeConfig builds a handshake.Config from the loaded fields,
// leaving PeerID unset (the listener assigns it per accepted peer).
func (c AppConfig) HandshakeConfig() handshake.Config {
	return handshake.Config{
		Protocol:              c.Protocol,
		Version:               c.Version,
		Channels:              c.Channels,
		AuthToken:             c.AuthToken,
		Timeout:               millis(c.HandshakeTimeoutMS),
		RequireChannelOverlap: c.RequireOverlap,
	}
}

// PeerConfig builds a peer.Config from the loaded fields. If SchemaDir
// is set, it loads a schema registry from that directory; callers that
// need a specific registry built differently should construct
// peer.Config directly instead.
func (c AppConfig) PeerConfig(logger *log.Logger) (peer.Config, error) {
	cfg := peer.Config{
		ShutdownTimeout: millis(c.ShutdownTimeoutMS),
		PingTimeout:     millis(c.PingTimeoutMS),
		RecvOnBufferCap: c.RecvOnBufferCap,
		Logger:          logger,
	}
	if c.SchemaDir == "" {
		return cfg, nil
	}
	reg, err := schema.FromDirectory(c.SchemaDir, schema.RegistryConfig{
		StrictMode:              c.SchemaStrictMode,
		FailOnMissingSchema:     c.SchemaFailOnMissing,
		MaxSchemasFromDirectory: schema.DefaultRegistryConfig().MaxSchemasFromDirectory,
		MaxSchemaFileSize:       schema.DefaultRegistryConfig().MaxSchemaFileSize,
	})
	if err != nil {
		return peer.Config{}, err
	}
	cfg.SchemaRegistry = reg
	return cfg, nil
}

// SocketFileMode returns the configured socket permission bits,
// defaulting to transport's own default when unset.
func (c AppConfig) SocketFileMode() os.FileMode {
	if c.SocketMode == 0 {
		return 0o600
	}
	return os.FileMode(c.SocketMode)
}

func millis(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
