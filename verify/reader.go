package verify

import (
	"io"

	"github.com/pulith/pulith/pkg/errs"
)

// VerifiedReader tees every successful Read through a Hasher with no
// additional buffering: the hasher observes exactly the bytes the caller
// received, so the resulting digest is independent of how the caller chunks
// its reads.
type VerifiedReader struct {
	r io.Reader
	h Hasher
}

func NewVerifiedReader(r io.Reader, h Hasher) *VerifiedReader {
	return &VerifiedReader{r: r, h: h}
}

func (vr *VerifiedReader) Read(p []byte) (int, error) {
	n, err := vr.r.Read(p)
	if n > 0 {
		vr.h.Update(p[:n])
	}
	if err != nil && err != io.EOF {
		return n, errs.Wrap(errs.IO, err, "verified reader")
	}
	return n, err
}

// Finish finalizes the reader's hasher and reports whether the
// accumulated digest equals expected. When expected is empty, Finish always
// succeeds (no checksum was requested) but still returns the actual digest
// so callers can record it.
func (vr *VerifiedReader) Finish(expected []byte) ([]byte, error) {
	actual := vr.h.Finalize()
	if len(expected) == 0 {
		return actual, nil
	}
	if !Equal(expected, actual) {
		return actual, errs.NewHashMismatch(expected, actual)
	}
	return actual, nil
}

// Digest returns the digest of the bytes read so far without consuming the
// reader: every Hasher in this package finalizes without disturbing its
// running state, so reading can continue afterwards.
func (vr *VerifiedReader) Digest() []byte { return vr.h.Finalize() }
