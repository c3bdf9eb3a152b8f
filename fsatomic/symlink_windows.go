//go:build windows

package fsatomic

// On Windows, os.Symlink requires SeCreateSymbolicLinkPrivilege (normally
// available only to elevated processes), and directory symlinks behave
// differently from junctions under replace-in-place semantics. A production
// Windows port would build junction points directly via the
// CreateSymbolicLink/FSCTL_SET_REPARSE_POINT Win32 API (as NTFS junctions
// need no elevated privilege and tolerate relative-vs-absolute target
// encoding differently than symlinks) rather than relying on os.Symlink.
// AtomicSymlink above still compiles and runs unmodified on Windows when the
// caller has the privilege; this file is a documentation seam, not a
// behavioral override, since the dev/test platform for this module is Unix.
