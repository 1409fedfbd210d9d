//go:build !unix

package schema

import "os"

// checkSameFileIdentity has no portable equivalent outside unix; the
// TOCTTOU window is accepted on platforms without this check.
func checkSameFileIdentity(f *os.File, lstatFi os.FileInfo, path string) error {
	return nil
}
