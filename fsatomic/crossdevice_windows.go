//go:build windows

package fsatomic

import (
	"errors"
	"os"
	"syscall"
)

// ERROR_NOT_SAME_DEVICE is Windows' cross-volume equivalent of EXDEV.
const errNotSameDevice syscall.Errno = 17

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		var errno syscall.Errno
		if errors.As(linkErr.Err, &errno) {
			return errno == errNotSameDevice
		}
	}
	return false
}
