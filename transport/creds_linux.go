//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

func peerCredentials(conn *net.UnixConn) (uid, gid uint32, pid int32, ok bool) {
	f, err := conn.File()
	if err != nil {
		return 0, 0, 0, false
	}
	defer f.Close()

	ucred, err := unix.GetsockoptUcred(int(f.Fd()), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, 0, 0, false
	}
	return ucred.Uid, ucred.Gid, ucred.Pid, true
}
