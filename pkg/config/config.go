// Package config holds the immutable configuration values shared across the
// fetch engine: FetchOptions, DownloadSource, MultiSourceOptions and
// RetryPolicy. Every "builder" method returns a new value rather than
// mutating the receiver, per the spec's redesign note on hidden builder
// state: Go has no borrow checker to make mutation-through-reference safe
// across goroutines, so configuration is treated as a value type throughout.
package config

import (
	"math/rand"
	"time"

	"github.com/pulith/pulith/pkg/errs"
)

// SelectionStrategy picks how MultiSourceFetcher walks a DownloadSource list.
type SelectionStrategy uint8

const (
	Priority SelectionStrategy = iota
	RoundRobin
	Race
	Geographic
)

// RetryPolicy governs attempt counting and backoff for every strategy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

func (p RetryPolicy) WithMaxAttempts(n int) RetryPolicy { p.MaxAttempts = n; return p }
func (p RetryPolicy) WithBackoff(base, max time.Duration) RetryPolicy {
	p.BaseDelay, p.MaxDelay = base, max
	return p
}
func (p RetryPolicy) WithJitter(on bool) RetryPolicy { p.Jitter = on; return p }

// ShouldRetry returns true only for transient errors and while attempts
// remain under MaxAttempts.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	code, ok := errs.CodeOf(err)
	if !ok {
		return false
	}
	return code.Transient()
}

// RetryDelay computes min(base*2^attempt, max), optionally perturbed by
// uniform jitter in [0, 100ms).
func RetryDelay(attempt int, base, max time.Duration, jitter bool) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > max { // overflow or exceeds ceiling
		d = max
	}
	if jitter {
		d += time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	}
	return d
}

// Timeouts carries connect/read/total durations for a single fetch attempt.
// The fetch strategies in this module do not read it; no deadline is
// derived from it.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: 10 * time.Second, Read: 30 * time.Second, Total: 10 * time.Minute}
}

// ProgressFunc is the shared, non-blocking progress callback capability.
// Implementations must return quickly; slow consumers are the caller's
// responsibility per the spec.
type ProgressFunc func(interface{})

// FetchOptions is accumulated by value: every With* method returns a new
// FetchOptions, never mutates the receiver.
type FetchOptions struct {
	ExpectedChecksum []byte
	ChecksumAlgo     string // "sha256" unless WithChecksumAlgo overrides it
	Retry            RetryPolicy
	Timeouts         Timeouts
	BandwidthCapBps  int64 // 0 = unlimited; not read by the fetch strategies, which throttle only via their Bucket
	OnProgress       ProgressFunc
	ChunkSize        int
}

const DefaultChunkSize = 64 * 1024 // 64 KiB, per spec.md 4.E

func NewFetchOptions() FetchOptions {
	return FetchOptions{
		Retry:        DefaultRetryPolicy(),
		Timeouts:     DefaultTimeouts(),
		ChunkSize:    DefaultChunkSize,
		ChecksumAlgo: "sha256",
	}
}

func (o FetchOptions) WithChecksum(expected []byte) FetchOptions {
	o.ExpectedChecksum = expected
	return o
}

// WithChecksumAlgo overrides the hash algorithm used to verify
// ExpectedChecksum; one of "sha256", "blake3", "blake2b-256", "xxhash64".
func (o FetchOptions) WithChecksumAlgo(algo string) FetchOptions {
	o.ChecksumAlgo = algo
	return o
}

func (o FetchOptions) WithRetry(p RetryPolicy) FetchOptions { o.Retry = p; return o }

func (o FetchOptions) WithTimeouts(t Timeouts) FetchOptions { o.Timeouts = t; return o }

func (o FetchOptions) WithBandwidthCap(bps int64) FetchOptions {
	o.BandwidthCapBps = bps
	return o
}

func (o FetchOptions) WithProgress(f ProgressFunc) FetchOptions { o.OnProgress = f; return o }

// WithChunkSize enforces the spec's >= 8 KiB floor.
func (o FetchOptions) WithChunkSize(n int) FetchOptions {
	if n < 8*1024 {
		n = 8 * 1024
	}
	o.ChunkSize = n
	return o
}

// DownloadSource is one candidate location for an artifact. Lower Priority
// is preferred; ordering among equal priorities is by InsertionIndex.
type DownloadSource struct {
	URL            string
	Priority       int
	Checksum       []byte
	Tags           map[string]string
	InsertionIndex int
}

// Less implements the spec's total order: (priority, insertion index).
func (s DownloadSource) Less(o DownloadSource) bool {
	if s.Priority != o.Priority {
		return s.Priority < o.Priority
	}
	return s.InsertionIndex < o.InsertionIndex
}

// MultiSourceOptions configures MultiSourceFetcher. Sources must be
// non-empty at dispatch time; that invariant is checked by the fetcher, not
// here, since an empty slice is a valid intermediate builder state.
type MultiSourceOptions struct {
	Sources  []DownloadSource
	Strategy SelectionStrategy
	Locality string // used only by Geographic selection
}

func NewMultiSourceOptions(strategy SelectionStrategy) MultiSourceOptions {
	return MultiSourceOptions{Strategy: strategy}
}

func (o MultiSourceOptions) WithSource(s DownloadSource) MultiSourceOptions {
	s.InsertionIndex = len(o.Sources)
	o.Sources = append(append([]DownloadSource{}, o.Sources...), s)
	return o
}

func (o MultiSourceOptions) WithLocality(loc string) MultiSourceOptions {
	o.Locality = loc
	return o
}

// Sorted returns a copy of Sources ordered per Less, used by Priority mode.
func (o MultiSourceOptions) Sorted() []DownloadSource {
	out := append([]DownloadSource{}, o.Sources...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
