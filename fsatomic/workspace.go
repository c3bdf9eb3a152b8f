package fsatomic

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/pkg/log"
)

// Workspace is a private staging directory: callers populate it file by
// file, then Commit swaps the whole tree into place atomically via
// ReplaceDir, or Abort discards it. Nothing under the staging root is
// visible at its final path until Commit succeeds.
type Workspace struct {
	root    string
	done    bool
	dropped bool
}

// AllocateWorkspace creates a new staging directory as a sibling of
// adjacentTo (so a later Commit's rename stays on one filesystem), named
// with a shortid suffix to avoid collisions between concurrent fetches.
func AllocateWorkspace(adjacentTo string) (*Workspace, error) {
	suffix, err := sid.Generate()
	if err != nil {
		suffix = "fallback"
	}
	root := filepath.Join(filepath.Dir(adjacentTo), ".pulith-workspace."+suffix)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, err, "create workspace root")
	}
	return &Workspace{root: root}, nil
}

// Path resolves rel against the workspace root, rejecting any path that
// would escape it (no "..", no absolute paths).
func (w *Workspace) Path(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errs.Newf(errs.InvalidState, "workspace path %q must be relative", rel)
	}
	full := filepath.Join(w.root, rel)
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", errs.Newf(errs.InvalidState, "workspace path %q escapes workspace root", rel)
	}
	return full, nil
}

func (w *Workspace) Write(rel string, data []byte) error {
	path, err := w.Path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "create workspace parent directory")
	}
	return AtomicWrite(path, data, WriteOptions{})
}

// CreateFile opens rel for streaming writes, creating parent directories as
// needed. Unlike Write, the caller controls buffering; nothing is visible
// outside the workspace until Commit swaps the whole tree into place.
func (w *Workspace) CreateFile(rel string) (*os.File, error) {
	path, err := w.Path(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, err, "create workspace parent directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "create workspace file")
	}
	return f, nil
}

func (w *Workspace) CreateDir(rel string) error {
	path, err := w.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return errs.Wrap(errs.IO, err, "create workspace directory")
	}
	return nil
}

func (w *Workspace) CreateDirAll(rel string) error {
	path, err := w.Path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "create workspace directory tree")
	}
	return nil
}

// SyncAndClose fsyncs f's contents before closing; callers writing through
// CreateFile should use this instead of f.Close() directly so CommitFile's
// subsequent rename never lands on unflushed data.
func (w *Workspace) SyncAndClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(errs.IO, err, "fsync staged file")
	}
	return f.Close()
}

// CommitFile renames the single staged file at rel directly onto target —
// the common case for a fetch that stages exactly one artifact, as opposed
// to Commit's whole-directory swap. The rest of the workspace (if any) is
// removed afterward.
func (w *Workspace) CommitFile(rel, target string) error {
	if w.done {
		return errs.New(errs.InvalidState, nil)
	}
	path, err := w.Path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "create target parent directory")
	}
	if err := os.Rename(path, target); err != nil {
		return errs.Wrap(errs.FsAtomicRename, err, "rename staged file onto destination")
	}
	if err := fsyncDir(filepath.Dir(target)); err != nil {
		log.Warningf("fsatomic: directory fsync after CommitFile rename failed: %v", err)
	}
	w.done = true
	w.dropped = true
	_ = removeRecursive(w.root)
	return nil
}

// Commit swaps the workspace's contents into target via ReplaceDir, then
// marks the workspace consumed: a Workspace may only be committed once.
func (w *Workspace) Commit(target string) error {
	if w.done {
		return errs.New(errs.InvalidState, nil)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.IO, err, "create target parent directory")
	}
	if err := ReplaceDir(w.root, target, ReplaceDirOptions{MaxRetries: 2}); err != nil {
		return err
	}
	w.done = true
	w.dropped = true
	return nil
}

// Abort discards the workspace without touching any final destination.
func (w *Workspace) Abort() error {
	if w.done || w.dropped {
		return nil
	}
	w.dropped = true
	return removeRecursive(w.root)
}

// Drop is an idempotent cleanup hook for defer sites that don't know
// whether Commit or Abort already ran: it is a no-op once either has.
func (w *Workspace) Drop() {
	if w.dropped || w.done {
		return
	}
	_ = w.Abort()
}
