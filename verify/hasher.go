// Package verify implements streaming hash verification: a Hasher
// capability wrapping concrete digest algorithms, and a VerifiedReader that
// tees reads through a Hasher so the final digest can be checked against an
// expected value without a second pass over the bytes.
package verify

import (
	"bytes"
	"crypto/sha256"
	"hash"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"

	"github.com/pulith/pulith/pkg/errs"
)

// Hasher is the capability every concrete digest algorithm implements:
// streaming update plus a finalizing digest.
type Hasher interface {
	Update(p []byte)
	Finalize() []byte
	Name() string
}

// stdHasher adapts any hash.Hash (crypto/sha256, blake2b, blake3) to Hasher.
type stdHasher struct {
	h    hash.Hash
	name string
}

func (s *stdHasher) Update(p []byte)  { s.h.Write(p) } //nolint:errcheck // hash.Hash.Write never errors
func (s *stdHasher) Finalize() []byte { return s.h.Sum(nil) }
func (s *stdHasher) Name() string     { return s.name }

func NewSHA256() Hasher {
	return &stdHasher{h: sha256.New(), name: "sha256"}
}

// NewBlake3 wires lukechampine.com/blake3, the ecosystem-standard Go
// implementation — the retrieval pack carries golang.org/x/crypto (which has
// blake2b but not blake3), so this one algorithm is sourced outside the pack
// per the spec's literal "Blake3" requirement.
func NewBlake3() Hasher {
	return &stdHasher{h: blake3.New(32, nil), name: "blake3"}
}

// NewBlake2b256 is offered alongside Blake3 as the pack-grounded streaming
// hash (golang.org/x/crypto/blake2b), for callers that want an algorithm
// sourced entirely from the examples' dependency set.
func NewBlake2b256() Hasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only errors on bad key/size, both fixed here
	}
	return &stdHasher{h: h, name: "blake2b-256"}
}

// xxHasher wraps OneOfOne/xxhash, a fast non-cryptographic 64-bit digest;
// ByName selects it as "xxhash64".
type xxHasher struct{ h *xxhash.XXHash64 }

func NewXXHash() Hasher {
	return &xxHasher{h: xxhash.New64()}
}

func (x *xxHasher) Update(p []byte)  { x.h.Write(p) } //nolint:errcheck
func (x *xxHasher) Finalize() []byte {
	var buf [8]byte
	sum := x.h.Sum64()
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return buf[:]
}
func (x *xxHasher) Name() string { return "xxhash64" }

// ByName resolves an algorithm name to a fresh Hasher instance, used by
// FetchOptions/conditional-metadata deserialization.
func ByName(name string) (Hasher, error) {
	switch name {
	case "sha256":
		return NewSHA256(), nil
	case "blake3":
		return NewBlake3(), nil
	case "blake2b-256":
		return NewBlake2b256(), nil
	case "xxhash64":
		return NewXXHash(), nil
	default:
		return nil, errs.Newf(errs.UnsupportedFormat, "unknown hash algorithm %q", name)
	}
}

// Equal does a constant-time-irrelevant but correct byte comparison; digests
// aren't secrets, so bytes.Equal is the right tool (no need for
// subtle.ConstantTimeCompare).
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }
