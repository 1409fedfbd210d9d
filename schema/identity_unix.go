//go:build unix

package schema

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// checkSameFileIdentity re-stats the already-open file descriptor and
// compares (device, inode) against the metadata taken before open,
// defeating a symlink/rename race between the two.
func checkSameFileIdentity(f *os.File, lstatFi os.FileInfo, path string) error {
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat open file %q", path)
	}
	wantSt, ok1 := lstatFi.Sys().(*syscall.Stat_t)
	gotSt, ok2 := fi.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return nil
	}
	if wantSt.Dev != gotSt.Dev || wantSt.Ino != gotSt.Ino {
		return errors.Errorf("file identity changed between stat and open: %q", path)
	}
	return nil
}
