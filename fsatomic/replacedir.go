package fsatomic

import (
	"os"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/pkg/log"
)

// replaceDirBaseBackoff and replaceDirMaxBackoff bound ReplaceDir's retry
// delay: base 8ms, doubling each attempt, capped at 1s.
const (
	replaceDirBaseBackoff = 8 * time.Millisecond
	replaceDirMaxBackoff  = time.Second
)

type ReplaceDirOptions struct {
	// MaxRetries bounds retry attempts against a transient rename failure
	// (Windows readers holding dest open, AV scanners, etc). Zero means one
	// attempt, no retry.
	MaxRetries int
}

// ReplaceDir atomically swaps dest for the contents of src: whatever existed
// at dest before the call is gone, and dest now is exactly what src was.
// Grounded on the teacher's fs.RenameBucketDirs, which removes the existing
// destination before renaming since os.Rename refuses to replace a
// non-empty directory.
func ReplaceDir(src, dest string, opts ReplaceDirOptions) error {
	if err := removeRecursive(dest); err != nil {
		return errs.Wrap(errs.FsAtomicCleanup, err, "remove existing destination directory")
	}

	var lastErr error
	attempts := opts.MaxRetries + 1
	backoff := replaceDirBaseBackoff
	for i := 0; i < attempts; i++ {
		if err := os.Rename(src, dest); err != nil {
			lastErr = err
			log.Warningf("fsatomic: replace_dir rename attempt %d/%d failed: %v", i+1, attempts, err)
			if i+1 < attempts {
				time.Sleep(backoff)
				backoff *= 2
				if backoff > replaceDirMaxBackoff {
					backoff = replaceDirMaxBackoff
				}
			}
			continue
		}
		return nil
	}
	e := errs.Wrap(errs.RetryLimitExceededFS, lastErr, "rename source directory onto destination")
	return errs.WithAttempt(e, attempts)
}

// removeRecursive deletes dir and everything beneath it. Used by Workspace's
// abort path and ReplaceDir's pre-flight cleanup; grounded on the teacher's
// use of godirwalk for fast recursive walks ahead of deletion in LRU
// eviction. The walk's outcome gates the deletion: a directory godirwalk
// can't even traverse (a broken symlink loop, a permission-denied subtree)
// is not safely removable with os.RemoveAll either, so we surface the walk
// error instead of deleting blind.
func removeRecursive(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error { return nil },
	})
	if err != nil {
		return errs.Wrap(errs.IO, err, "recursive pre-removal walk failed")
	}
	return os.RemoveAll(dir)
}
