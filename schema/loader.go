package schema

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LoadDirectory loads every `<name>.schema.json` file from dir into r,
// hardened against a handful of TOCTTOU and resource-exhaustion
// footguns: symlinks are rejected outright, the file count and each
// file's size are capped, and file identity is re-checked between the
// metadata probe and the open.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Error{Kind: LoadError, Err: errors.Wrapf(err, "read dir %q", dir)}
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if !isSchemaFileName(name) {
			continue
		}
		full := filepath.Join(dir, name)

		lfi, err := os.Lstat(full)
		if err != nil {
			return &Error{Kind: LoadError, Err: errors.Wrapf(err, "lstat %q", full)}
		}
		if lfi.Mode()&os.ModeSymlink != 0 {
			return &Error{Kind: LoadError, Err: errors.Wrapf(errSymlinkRejected, "%q", full)}
		}

		channel, ok := resolveChannelFromFileName(name)
		if !ok {
			return &Error{Kind: LoadError, Err: errors.Errorf("unrecognised schema file name %q", name)}
		}

		loaded++
		if loaded > r.cfg.MaxSchemasFromDirectory {
			return &Error{Kind: LoadError, Err: errors.Errorf("directory %q exceeds max schema count %d", dir, r.cfg.MaxSchemasFromDirectory)}
		}
		if lfi.Size() > r.cfg.MaxSchemaFileSize {
			return &Error{Kind: LoadError, Channel: channel, Err: errors.Errorf("%q exceeds max schema file size %d", full, r.cfg.MaxSchemaFileSize)}
		}

		data, err := openAndReadChecked(full, lfi, r.cfg.MaxSchemaFileSize)
		if err != nil {
			return &Error{Kind: LoadError, Channel: channel, Err: err}
		}

		if err := r.Register(channel, data); err != nil {
			return err
		}
	}
	return nil
}

// openAndReadChecked opens path, re-verifies (where supported) that the
// opened file is still the same one lstatFi described, and reads at
// most maxSize+1 bytes so an after-the-fact size blowup is caught even
// though the pre-open size check already passed.
func openAndReadChecked(path string, lstatFi os.FileInfo, maxSize int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	if err := checkSameFileIdentity(f, lstatFi, path); err != nil {
		return nil, err
	}

	limited := io.LimitReader(f, maxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}
	if int64(len(data)) > maxSize {
		return nil, errors.Errorf("%q exceeds max schema file size %d after open", path, maxSize)
	}
	return data, nil
}
