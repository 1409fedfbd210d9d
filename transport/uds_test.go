package transport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBindAcceptConnect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.sock")

	ln, err := Bind(path, DefaultSocketMode, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		s, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer s.Close()
		buf := make([]byte, 5)
		if _, err := s.Read(buf); err != nil {
			done <- err
			return
		}
		done <- nil
	}()

	cli, err := Connect(path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cli.Close()
	if _, err := cli.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}

	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("want socket removed, stat err=%v", err)
	}
}

func TestBindPathTooLong(t *testing.T) {
	longDir := strings.Repeat("a", platformMaxPathLen()+10)
	_, err := Bind(filepath.Join(os.TempDir(), longDir, "x.sock"), DefaultSocketMode, nil)
	if err == nil {
		t.Fatalf("want path_too_long error")
	}
}

func TestBindDefaultPermissionsHardened(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.sock")
	ln, err := Bind(path, DefaultSocketMode, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer ln.Close()

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", fi.Mode().Perm())
	}
}

func TestBindRejectsExistingNonSocketFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notasocket")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Bind(path, DefaultSocketMode, nil)
	if err == nil {
		t.Fatalf("want exists_non_socket error")
	}
}

func TestDropDoesNotRemoveReplacedPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.sock")
	ln, err := Bind(path, DefaultSocketMode, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Replace the path between bind and close with an unrelated file.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := os.WriteFile(path, []byte("replaced"), 0o600); err != nil {
		t.Fatalf("write replacement: %v", err)
	}

	ln.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("replaced file should survive close: %v", err)
	}
	if string(data) != "replaced" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestStreamTimeouts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.sock")
	ln, err := Bind(path, DefaultSocketMode, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer ln.Close()

	go func() {
		s, err := ln.Accept()
		if err == nil {
			defer s.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	cli, err := Connect(path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cli.Close()

	if err := cli.SetReadTimeout(10 * time.Millisecond); err != nil {
		t.Fatalf("set read timeout: %v", err)
	}
	buf := make([]byte, 1)
	_, err = cli.Read(buf)
	if err == nil {
		t.Fatalf("want timeout error")
	}
}

func TestTryClone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.sock")
	ln, err := Bind(path, DefaultSocketMode, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		s, err := ln.Accept()
		if err == nil {
			s.Write([]byte("x"))
			<-done
			s.Close()
		}
	}()

	cli, err := Connect(path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cli.Close()

	clone, err := cli.TryClone()
	if err != nil {
		t.Fatalf("try clone: %v", err)
	}
	defer clone.Close()

	buf := make([]byte, 1)
	if _, err := clone.Read(buf); err != nil {
		t.Fatalf("read via clone: %v", err)
	}
	close(done)
}
