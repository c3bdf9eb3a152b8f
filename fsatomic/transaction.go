//go:build !windows

package fsatomic

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pulith/pulith/pkg/errs"
)

// Transaction holds an interprocess-exclusive lock over a single path (the
// cache/checkpoint file it protects) for the lifetime of one read-modify-
// write cycle: another process (or goroutine in another instance) blocks in
// OpenTransaction until this one calls Close.
type Transaction struct {
	path   string
	lockFd *os.File
	closed bool
}

// OpenTransaction blocks until it holds an exclusive flock on path's lock
// sibling (path + ".lock"), creating it if necessary. Grounded on the
// teacher's dbdriver's file-backed persistence, generalized here to a
// dedicated lock file so the protected path itself is never opened for
// writing except inside Execute's atomic replace.
func OpenTransaction(path string) (*Transaction, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open lock file")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IO, err, "acquire exclusive flock")
	}
	return &Transaction{path: path, lockFd: f}, nil
}

// Execute reads the current contents of the transaction's path (nil, nil if
// it does not yet exist), passes them to fn, and atomically writes back
// whatever fn returns. fn runs under the transaction's lock, so concurrent
// Executes against the same path serialize.
func (t *Transaction) Execute(fn func(current []byte) ([]byte, error)) error {
	if t.closed {
		return errs.New(errs.InvalidState, nil)
	}
	current, err := os.ReadFile(t.path)
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IO, err, "read transaction file")
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return AtomicWrite(t.path, next, WriteOptions{})
}

// Close releases the interprocess lock. Safe to call multiple times.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := unix.Flock(int(t.lockFd.Fd()), unix.LOCK_UN); err != nil {
		t.lockFd.Close()
		return errs.Wrap(errs.IO, err, "release flock")
	}
	return t.lockFd.Close()
}

var _ io.Closer = (*Transaction)(nil)
