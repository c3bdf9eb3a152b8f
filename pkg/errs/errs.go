// Package errs implements the tagged-variant error taxonomy shared by every
// pulith component: fetch engine, filesystem primitives, transport and rate
// control all return errors built from the same small set of codes so that
// callers can match variants explicitly instead of parsing strings.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies the class of failure. Retry and propagation policy are
// keyed off Code, not off the wrapped Cause.
type Code uint8

const (
	_ Code = iota
	InvalidURL
	NetworkTransient
	NetworkPermanent
	TimeoutConnect
	TimeoutRead
	TimeoutTotal
	HashMismatch
	ChecksumParse
	TooManyRedirects
	RangeUnsupported
	IO
	FsAtomicRename
	FsAtomicCopy
	FsAtomicCleanup
	RetryLimitExceeded
	InvalidState
	UnsupportedFormat
	NotFound
	PermissionDenied
	AlreadyExists
	RetryLimitExceededFS
	CrossDeviceHardlink
	SymlinkNotSupported
	PathTooLong
)

var names = map[Code]string{
	InvalidURL:            "InvalidUrl",
	NetworkTransient:      "Network(transient)",
	NetworkPermanent:      "Network(permanent)",
	TimeoutConnect:        "Timeout(connect)",
	TimeoutRead:           "Timeout(read)",
	TimeoutTotal:          "Timeout(total)",
	HashMismatch:          "HashMismatch",
	ChecksumParse:         "ChecksumParse",
	TooManyRedirects:      "TooManyRedirects",
	RangeUnsupported:      "RangeUnsupported",
	IO:                    "Io",
	FsAtomicRename:        "FsAtomicFailed(rename)",
	FsAtomicCopy:          "FsAtomicFailed(copy)",
	FsAtomicCleanup:       "FsAtomicFailed(cleanup)",
	RetryLimitExceeded:    "RetryLimitExceeded",
	InvalidState:          "InvalidState",
	UnsupportedFormat:     "UnsupportedFormat",
	NotFound:              "NotFound",
	PermissionDenied:      "PermissionDenied",
	AlreadyExists:         "AlreadyExists",
	RetryLimitExceededFS:  "RetryLimitExceeded",
	CrossDeviceHardlink:   "CrossDeviceHardlink",
	SymlinkNotSupported:   "SymlinkNotSupported",
	PathTooLong:           "PathTooLong",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Error is the concrete error value every pulith package returns. Cause may
// be nil for programmer errors (InvalidState) that have no underlying I/O
// failure to wrap.
type Error struct {
	Code    Code
	Cause   error
	Attempt int // number of attempts made, set by retry exhaustion
	Extra   string
}

func (e *Error) Error() string {
	if e.Extra != "" && e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Extra, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	if e.Extra != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Extra)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, errs.New(code, nil)) by comparing codes only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Extra: fmt.Sprintf(format, args...)}
}

// Wrap annotates cause with a stack trace (via pkg/errors) before tagging it
// with code. Used at I/O boundaries where a post-mortem stack is valuable.
func Wrap(code Code, cause error, msg string) *Error {
	return &Error{Code: code, Cause: errors.Wrap(cause, msg)}
}

func WithAttempt(e *Error, attempt int) *Error {
	e.Attempt = attempt
	return e
}

// CodeOf extracts the Code of err, returning false if err is not (or does
// not wrap) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// HashMismatchError carries the expected and actual digests for callers that
// need the bytes, not just the code.
type HashMismatchError struct {
	Expected []byte
	Actual   []byte
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %x, got %x", e.Expected, e.Actual)
}

// NewHashMismatch builds the *Error wrapping a HashMismatchError, which is
// the form every verify/fetch caller should match against.
func NewHashMismatch(expected, actual []byte) *Error {
	return &Error{Code: HashMismatch, Cause: &HashMismatchError{Expected: expected, Actual: actual}}
}

// Transient reports whether code is worth retrying under RetryPolicy.
func (c Code) Transient() bool {
	switch c {
	case NetworkTransient, TimeoutConnect, TimeoutRead, TimeoutTotal, IO:
		return true
	default:
		return false
	}
}
