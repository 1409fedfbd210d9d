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

// Package ipcconfig loads the JSON configuration file shared by a
// socket's client and server processes.
package ipcconfig

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// AppConfig aggregates everything one side of a session needs: where
// the socket lives, what the handshake negotiates, and how the peer
// session and schema registry behave once negotiation succeeds.
type AppConfig struct {
	SocketPath     string   `json:"socket_path"`
	SocketMode     int      `json:"socket_mode"`
	Protocol       string   `json:"protocol"`
	Version        string   `json:"version"`
	Channels       []uint16 `json:"channels"`
	AuthToken      string   `json:"auth_token,omitempty"`
	RequireOverlap bool     `json:"require_channel_overlap"`

	HandshakeTimeoutMS int `json:"handshake_timeout_ms"`
	ShutdownTimeoutMS  int `json:"shutdown_timeout_ms"`
	PingTimeoutMS      int `json:"ping_timeout_ms"`
	RecvOnBufferCap    int `json:"recv_on_buffer_cap"`

	SchemaDir           string `json:"schema_dir,omitempty"`
	SchemaStrictMode    bool   `json:"schema_strict_mode"`
	SchemaFailOnMissing bool   `json:"schema_fail_on_missing"`

	Quiet bool `json:"quiet"`
}

// Load decodes the JSON document at path into into, which must be a
// pointer. Unknown fields are ignored; a malformed document or an
// unreadable path is reported wrapped with the path for context.
func Load(path string, into interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "ipcconfig: open %s", path)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(into); err != nil {
		return errors.Wrapf(err, "ipcconfig: decode %s", path)
	}
	return nil
}
