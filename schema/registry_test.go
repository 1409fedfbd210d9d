package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtaci/ipcmux/frame"
)

const commandSchema = `{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}}}`

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	if err := r.Register(frame.Command, []byte(commandSchema)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Validate(frame.Command, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("want valid, got %v", err)
	}
	err := r.Validate(frame.Command, []byte(`{"nope":true}`))
	if err == nil {
		t.Fatalf("want validation error")
	}
	var se *Error
	if !errors.As(err, &se) || se.Kind != ValidationFailed {
		t.Fatalf("want ValidationFailed, got %v", err)
	}
}

func TestMissingSchemaDefaultsToValid(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	if err := r.Validate(frame.Data, []byte(`{"anything":1}`)); err != nil {
		t.Fatalf("want no-schema channel to pass, got %v", err)
	}
}

func TestFailOnMissingSchema(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.FailOnMissingSchema = true
	r := NewRegistry(cfg)
	err := r.Validate(frame.Data, []byte(`{}`))
	var se *Error
	if !errors.As(err, &se) || se.Kind != NoSchema {
		t.Fatalf("want NoSchema, got %v", err)
	}
}

func TestStrictModeRejectsUnknownProperties(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.StrictMode = true
	r := NewRegistry(cfg)
	if err := r.Register(frame.Command, []byte(commandSchema)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Validate(frame.Command, []byte(`{"ok":true,"extra":1}`))
	if err == nil {
		t.Fatalf("want rejection of unknown property under strict mode")
	}
}

func TestHasSchemaAndChannels(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	r.Register(frame.Command, []byte(commandSchema))
	if !r.HasSchema(frame.Command) {
		t.Fatalf("want HasSchema true")
	}
	if r.HasSchema(frame.Data) {
		t.Fatalf("want HasSchema false for unregistered channel")
	}
	chs := r.Channels()
	if len(chs) != 1 || chs[0] != frame.Command {
		t.Fatalf("channels = %v", chs)
	}
}

func writeSchemaFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestFromDirectoryWellKnownAndPatternNames(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "command.schema.json", commandSchema)
	writeSchemaFile(t, dir, "channel_300.schema.json", `{"type":"object"}`)

	r, err := FromDirectory(dir, DefaultRegistryConfig())
	if err != nil {
		t.Fatalf("from directory: %v", err)
	}
	if !r.HasSchema(frame.Command) {
		t.Fatalf("want command schema loaded")
	}
	if !r.HasSchema(300) {
		t.Fatalf("want channel 300 schema loaded")
	}
}

func TestFromDirectoryRejectsUnrecognisedName(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "weird.schema.json", `{}`)
	_, err := FromDirectory(dir, DefaultRegistryConfig())
	if err == nil {
		t.Fatalf("want load error for unrecognised file name")
	}
}

func TestFromDirectoryRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "real.json", commandSchema)
	if err := os.Symlink(filepath.Join(dir, "real.json"), filepath.Join(dir, "command.schema.json")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	_, err := FromDirectory(dir, DefaultRegistryConfig())
	if err == nil || !strings.Contains(err.Error(), "symlink") {
		t.Fatalf("want symlink rejection, got %v", err)
	}
}

func TestFromDirectoryEnforcesFileSizeCap(t *testing.T) {
	dir := t.TempDir()
	big := `{"type":"object","description":"` + strings.Repeat("x", 200) + `"}`
	writeSchemaFile(t, dir, "command.schema.json", big)

	cfg := DefaultRegistryConfig()
	cfg.MaxSchemaFileSize = 10
	_, err := FromDirectory(dir, cfg)
	if err == nil {
		t.Fatalf("want file size cap to reject")
	}
}

func TestFromDirectoryEnforcesCountCap(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "command.schema.json", commandSchema)
	writeSchemaFile(t, dir, "data.schema.json", commandSchema)

	cfg := DefaultRegistryConfig()
	cfg.MaxSchemasFromDirectory = 1
	_, err := FromDirectory(dir, cfg)
	if err == nil {
		t.Fatalf("want count cap to reject")
	}
}

func TestResolveChannelFromFileName(t *testing.T) {
	cases := map[string]uint16{
		"control.schema.json":   frame.Control,
		"command.schema.json":   frame.Command,
		"data.schema.json":      frame.Data,
		"telemetry.schema.json": frame.Telemetry,
		"error.schema.json":     frame.Err,
		"channel_42.schema.json": 42,
	}
	for name, want := range cases {
		got, ok := resolveChannelFromFileName(name)
		if !ok || got != want {
			t.Fatalf("%s: got (%d,%v), want %d", name, got, ok, want)
		}
	}
	if _, ok := resolveChannelFromFileName("nonsense.schema.json"); ok {
		t.Fatalf("want rejection of unrecognised name")
	}
}
