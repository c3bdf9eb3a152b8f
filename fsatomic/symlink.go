package fsatomic

import (
	"os"
	"path/filepath"

	"github.com/pulith/pulith/pkg/errs"
)

// AtomicSymlink creates a symlink at link pointing to target, replacing
// whatever is there atomically: the new symlink is built under a temp name
// in link's directory, then renamed over link. A reader listing link never
// observes a missing or half-written symlink.
func AtomicSymlink(target, link string) error {
	tmp := tempSibling(link, ".symlink.")
	if err := os.Symlink(target, tmp); err != nil {
		return errs.Wrap(errs.FsAtomicRename, err, "create temp symlink")
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.FsAtomicRename, err, "rename temp symlink onto destination")
	}
	if err := fsyncDir(filepath.Dir(link)); err != nil {
		return errs.Wrap(errs.IO, err, "fsync directory after symlink rename")
	}
	return nil
}
