package verify

// SignatureVerifier is declared types-only, matching the spec's note that
// signature verification is documented in the original source but left
// unresolved whether the core must implement an algorithm or merely surface
// the interface (see SPEC_FULL.md §9, Open Question 2). No concrete
// implementation is provided, and nothing in fetch refers to a
// SignatureVerifier.
type SignatureVerifier interface {
	// Verify reports whether signature is a valid signature of digest under
	// whatever key material the implementation holds.
	Verify(digest, signature []byte) (bool, error)
}
