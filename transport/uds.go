// Package transport provides the local Unix domain socket endpoint the
// peer session runs over: bind/accept/connect, permissioned socket
// files, and identity-checked cleanup on teardown.
package transport

import (
	"log"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// DefaultSocketMode is applied to a freshly bound socket path unless the
// caller overrides it.
const DefaultSocketMode os.FileMode = 0o600

// Listener is a bound Unix domain socket endpoint.
type Listener struct {
	ln       *net.UnixListener
	path     string
	dev, ino uint64
	haveID   bool
	logger   *log.Logger
}

// Bind creates a listening Unix domain socket at path with the given
// permission mode. A pre-existing path is removed first if (and only
// if) it is itself a socket; anything else at that path is left alone
// and reported as ExistsNonSocket.
func Bind(path string, mode os.FileMode, logger *log.Logger) (*Listener, error) {
	if len(path) > platformMaxPathLen() {
		return nil, &Error{Kind: PathTooLong, Path: path, Err: errors.Errorf("path length %d exceeds limit %d", len(path), platformMaxPathLen())}
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, &Error{Kind: ExistsNonSocket, Path: path}
		}
		if err := os.Remove(path); err != nil {
			return nil, &Error{Kind: Bind, Path: path, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return nil, &Error{Kind: Bind, Path: path, Err: err}
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, &Error{Kind: Bind, Path: path, Err: err}
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, &Error{Kind: Bind, Path: path, Err: err}
	}
	// We perform our own identity-checked removal on Close; disable the
	// net package's unconditional unlink-on-close.
	ln.SetUnlinkOnClose(false)

	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, &Error{Kind: Bind, Path: path, Err: err}
	}

	l := &Listener{ln: ln, path: path, logger: logger}
	if dev, ino, isSock, err := fileIdentity(path); err == nil && isSock {
		l.dev, l.ino, l.haveID = dev, ino, true
	}
	l.logf("bind: path=%s mode=%v", path, mode)
	return l, nil
}

// Accept blocks until a peer connects.
func (l *Listener) Accept() (*Stream, error) {
	c, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, &Error{Kind: Accept, Path: l.path, Err: err}
	}
	l.logf("accept: path=%s", l.path)
	return &Stream{conn: c}, nil
}

// Addr returns the bound socket path.
func (l *Listener) Addr() string { return l.path }

// Close stops accepting connections and removes the socket path if its
// (device, inode) identity is unchanged since bind.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if !l.haveID {
		l.logf("cleanup: path=%s skipped (no recorded identity)", l.path)
		return err
	}
	dev, ino, isSock, idErr := fileIdentity(l.path)
	if idErr != nil || !isSock || dev != l.dev || ino != l.ino {
		l.logf("cleanup: path=%s skipped (identity changed)", l.path)
		return err
	}
	if rmErr := os.Remove(l.path); rmErr != nil && err == nil {
		err = rmErr
	} else {
		l.logf("cleanup: path=%s removed", l.path)
	}
	return err
}

func (l *Listener) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// Connect dials a Unix domain socket at path.
func Connect(path string, logger *log.Logger) (*Stream, error) {
	if len(path) > platformMaxPathLen() {
		return nil, &Error{Kind: PathTooLong, Path: path}
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, &Error{Kind: Connect, Path: path, Err: err}
	}
	c, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, &Error{Kind: Connect, Path: path, Err: err}
	}
	if logger != nil {
		logger.Printf("connect: path=%s", path)
	}
	return &Stream{conn: c}, nil
}

// Stream is one bidirectional endpoint of an established connection.
type Stream struct {
	conn *net.UnixConn
}

func (s *Stream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *Stream) Close() error                { return s.conn.Close() }

// SetReadTimeout sets (or clears, with d<=0) a read deadline relative to now.
func (s *Stream) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

// SetWriteTimeout sets (or clears, with d<=0) a write deadline relative to now.
func (s *Stream) SetWriteTimeout(d time.Duration) error {
	if d <= 0 {
		return s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.SetWriteDeadline(time.Now().Add(d))
}

// TryClone returns an independent Stream handle sharing the same
// underlying connection, suitable for use as a distinct read or write
// side.
func (s *Stream) TryClone() (*Stream, error) {
	f, err := s.conn.File()
	if err != nil {
		return nil, &Error{Kind: IO, Err: err}
	}
	defer f.Close()
	nc, err := net.FileConn(f)
	if err != nil {
		return nil, &Error{Kind: IO, Err: err}
	}
	uc, ok := nc.(*net.UnixConn)
	if !ok {
		nc.Close()
		return nil, &Error{Kind: IO, Err: errors.New("cloned connection is not a unix socket")}
	}
	return &Stream{conn: uc}, nil
}

// PeerCredentials returns the connecting process's (uid, gid, pid)
// where the OS exposes it (Linux via SO_PEERCRED); ok is false elsewhere.
func (s *Stream) PeerCredentials() (uid, gid uint32, pid int32, ok bool) {
	return peerCredentials(s.conn)
}
