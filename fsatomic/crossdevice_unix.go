//go:build !windows

package fsatomic

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// isCrossDevice reports whether err is the OS's "invalid cross-device link"
// failure from a Link(2) call straddling filesystems.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, unix.EXDEV)
	}
	return errors.Is(err, unix.EXDEV)
}
