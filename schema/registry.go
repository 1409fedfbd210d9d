// Package schema implements the per-channel JSON Schema registry the
// peer session consults before accepting or sending a payload on a
// channel that has a schema attached.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"github.com/xtaci/ipcmux/frame"
)

const maxValidationMessages = 4

// Registry is a read-mostly mapping from channel id to a compiled
// validator. Safe for concurrent use; intended to be built once (via
// Register/RegisterValue/LoadDirectory) and then shared read-only
// across many peer sessions.
type Registry struct {
	mu      sync.RWMutex
	cfg     RegistryConfig
	schemas map[uint16]*gojsonschema.Schema
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{cfg: cfg, schemas: make(map[uint16]*gojsonschema.Schema)}
}

// Config returns the registry's configuration.
func (r *Registry) Config() RegistryConfig { return r.cfg }

// Register compiles schemaBytes (a JSON Schema document) and attaches
// it to channel, applying strict mode first if configured.
func (r *Registry) Register(channel uint16, schemaBytes []byte) error {
	var doc interface{}
	if err := json.Unmarshal(schemaBytes, &doc); err != nil {
		return &Error{Kind: InvalidJSON, Channel: channel, Err: err}
	}
	return r.RegisterValue(channel, doc)
}

// RegisterValue attaches an already-parsed JSON Schema document
// (typically embedded at compile time) to channel.
func (r *Registry) RegisterValue(channel uint16, schemaDoc interface{}) error {
	if r.cfg.StrictMode {
		schemaDoc = applyStrictMode(schemaDoc)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return &Error{Kind: LoadError, Channel: channel, Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[channel] = compiled
	return nil
}

// HasSchema reports whether channel has a registered schema.
func (r *Registry) HasSchema(channel uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[channel]
	return ok
}

// Channels returns every channel with a registered schema, in no
// particular order.
func (r *Registry) Channels() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint16, 0, len(r.schemas))
	for ch := range r.schemas {
		out = append(out, ch)
	}
	return out
}

// Validate checks payload (raw JSON bytes) against channel's schema.
// A channel with no schema is accepted unless FailOnMissingSchema is
// set, in which case a NoSchema error is returned.
func (r *Registry) Validate(channel uint16, payload []byte) error {
	r.mu.RLock()
	compiled, ok := r.schemas[channel]
	r.mu.RUnlock()
	if !ok {
		if r.cfg.FailOnMissingSchema {
			return &Error{Kind: NoSchema, Channel: channel}
		}
		return nil
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &Error{Kind: InvalidJSON, Channel: channel, Err: err}
	}
	if result.Valid() {
		return nil
	}

	resErrs := result.Errors()
	n := len(resErrs)
	if n > maxValidationMessages {
		n = maxValidationMessages
	}
	msgs := make([]string, n)
	for i := 0; i < n; i++ {
		msgs[i] = resErrs[i].String()
	}
	return &Error{Kind: ValidationFailed, Channel: channel, Message: strings.Join(msgs, "; ")}
}

// ValidateFrame is a convenience wrapper over Validate for a decoded frame.
func (r *Registry) ValidateFrame(f frame.Frame) error {
	return r.Validate(f.Channel, f.Payload)
}

// FromDirectory constructs a registry and loads every schema file from dir.
func FromDirectory(dir string, cfg RegistryConfig) (*Registry, error) {
	r := NewRegistry(cfg)
	if err := r.LoadDirectory(dir); err != nil {
		return nil, err
	}
	return r, nil
}

func resolveChannelFromFileName(name string) (uint16, bool) {
	const suffix = ".schema.json"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	base := strings.TrimSuffix(name, suffix)
	switch base {
	case "control":
		return frame.Control, true
	case "command":
		return frame.Command, true
	case "data":
		return frame.Data, true
	case "telemetry":
		return frame.Telemetry, true
	case "error":
		return frame.Err, true
	}
	const prefix = "channel_"
	if strings.HasPrefix(base, prefix) {
		n, err := parseChannelNumber(base[len(prefix):])
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func parseChannelNumber(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("empty channel number")
	}
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a decimal channel number: %q", s)
		}
		n = n*10 + uint64(c-'0')
		if n > 65535 {
			return 0, fmt.Errorf("channel number out of range: %q", s)
		}
	}
	return uint16(n), nil
}

// isSchemaFileName reports whether name looks like a schema file this
// loader is willing to consider, independent of whether it resolves to
// a known channel.
func isSchemaFileName(name string) bool {
	return strings.HasSuffix(name, ".schema.json")
}

var errSymlinkRejected = errors.New("schema: symlink schema files are rejected")
