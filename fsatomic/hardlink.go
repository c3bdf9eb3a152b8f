package fsatomic

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pulith/pulith/pkg/errs"
)

// CrossDeviceStrategy controls what HardlinkOrCopy does when src and dest
// live on different devices, where a hardlink is impossible.
type CrossDeviceStrategy uint8

const (
	// FallbackToCopy silently copies the bytes instead of linking.
	FallbackToCopy CrossDeviceStrategy = iota
	// FailOnCrossDevice returns a CrossDeviceHardlink error instead of
	// copying, for callers that need the space savings a hardlink gives.
	FailOnCrossDevice
)

// HardlinkOrCopy places dest pointing at the same inode as src when both
// paths share a device, or copies src's bytes to dest otherwise (subject to
// strategy). The copy path writes and fsyncs a temp sibling, then renames it
// over dest, so dest is never observably partial.
func HardlinkOrCopy(src, dest string, strategy CrossDeviceStrategy) error {
	if err := os.Link(src, dest); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return errs.Wrap(errs.FsAtomicCopy, err, "hardlink")
	} else if strategy == FailOnCrossDevice {
		return errs.New(errs.CrossDeviceHardlink, err)
	}
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.FsAtomicCopy, err, "open source")
	}
	defer in.Close()

	tmp := tempSibling(dest, ".copy.")
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.FsAtomicCopy, err, "create temp destination")
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.FsAtomicCopy, err, "copy bytes")
	}
	if err = out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.FsAtomicCopy, err, "fsync temp destination")
	}
	if err = out.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.FsAtomicCopy, err, "close temp destination")
	}
	if err = os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.FsAtomicRename, err, "rename temp copy onto destination")
	}
	return fsyncDir(filepath.Dir(dest))
}
