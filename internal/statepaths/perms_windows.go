//go:build windows

package statepaths

import "os"

func ensureOwnershipAndPerms(_ string, _ os.FileInfo) error {
	// Windows does not expose POSIX uid/mode bits in a portable way.
	return nil
}
