//go:build !unix

package transport

import "errors"

var errUnsupportedPlatform = errors.New("transport: file identity check unsupported on this platform")

// fileIdentity has no portable equivalent outside unix; it always
// returns an error, so Bind records no identity and Close leaves the
// socket path in place.
func fileIdentity(path string) (dev, ino uint64, isSocket bool, err error) {
	return 0, 0, false, errUnsupportedPlatform
}

func platformMaxPathLen() int { return 104 }
