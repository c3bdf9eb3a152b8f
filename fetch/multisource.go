package fetch

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/atomic"

	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/ratelimit"
	"github.com/pulith/pulith/transport"
	"github.com/pulith/pulith/verify"
)

// MultiSourceFetcher dispatches a fetch across a DownloadSource list under
// one of four strategies. Each strategy ultimately delegates a single
// source's transfer to a plain Fetcher, reusing its commit discipline.
type MultiSourceFetcher struct {
	Client transport.HttpClient
	Bucket *ratelimit.TokenBucket

	rrCounter atomic.Int64 // RoundRobin's rotating start index, shared across calls
}

func NewMultiSourceFetcher(client transport.HttpClient) *MultiSourceFetcher {
	return &MultiSourceFetcher{Client: client}
}

func (f *MultiSourceFetcher) subFetcher() *Fetcher {
	sub := NewFetcher(f.Client)
	if f.Bucket != nil {
		sub.WithBucket(f.Bucket)
	}
	return sub
}

func (f *MultiSourceFetcher) Fetch(ctx context.Context, dest string, msOpts config.MultiSourceOptions, opts config.FetchOptions) (*FetchReport, error) {
	if len(msOpts.Sources) == 0 {
		return nil, errs.New(errs.InvalidState, nil)
	}
	switch msOpts.Strategy {
	case config.RoundRobin:
		return f.fetchSequential(ctx, dest, f.rotated(msOpts.Sources), opts)
	case config.Race:
		return f.fetchRace(ctx, dest, msOpts.Sources, opts)
	case config.Geographic:
		return f.fetchSequential(ctx, dest, f.geographic(msOpts), opts)
	default: // Priority
		return f.fetchSequential(ctx, dest, msOpts.Sorted(), opts)
	}
}

// rotated returns sources starting from the next counter value, wrapping
// around, so successive calls spread load across the list.
func (f *MultiSourceFetcher) rotated(sources []config.DownloadSource) []config.DownloadSource {
	n := len(sources)
	start := int(f.rrCounter.Add(1)-1) % n
	out := make([]config.DownloadSource, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sources[(start+i)%n])
	}
	return out
}

// geographic prefers sources tagged with the requested locality, ordered by
// priority among the match; falls back to the full priority order when
// nothing matches the hint.
func (f *MultiSourceFetcher) geographic(msOpts config.MultiSourceOptions) []config.DownloadSource {
	if msOpts.Locality == "" {
		return msOpts.Sorted()
	}
	var matched []config.DownloadSource
	for _, s := range msOpts.Sources {
		if s.Tags["locality"] == msOpts.Locality {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return msOpts.Sorted()
	}
	for i := 1; i < len(matched); i++ {
		for j := i; j > 0 && matched[j].Less(matched[j-1]); j-- {
			matched[j], matched[j-1] = matched[j-1], matched[j]
		}
	}
	return matched
}

// fetchSequential tries sources in order, falling back to the next on any
// error, and returns the last error if every source fails.
func (f *MultiSourceFetcher) fetchSequential(ctx context.Context, dest string, sources []config.DownloadSource, opts config.FetchOptions) (*FetchReport, error) {
	var lastErr error
	var attempts []SourceAttempt
	for _, src := range sources {
		localOpts := opts
		if len(src.Checksum) > 0 {
			localOpts = opts.WithChecksum(src.Checksum)
		}
		report, err := f.subFetcher().Fetch(ctx, src.URL, dest, localOpts)
		if err == nil {
			report.Attempts = append(attempts, report.Attempts...)
			return report, nil
		}
		attempts = append(attempts, SourceAttempt{URL: src.URL, Succeeded: false, Err: err})
		lastErr = err
	}
	return nil, lastErr
}

type raceResult struct {
	source   config.DownloadSource
	report   *FetchReport
	tempPath string
	err      error
}

// fetchRace runs every source concurrently, each staging into its own
// temp path via a plain Fetcher. The first success cancels the rest. If
// more than one source completes with a digest before cancellation lands,
// all provided digests must agree or the whole race fails.
func (f *MultiSourceFetcher) fetchRace(ctx context.Context, dest string, sources []config.DownloadSource, opts config.FetchOptions) (*FetchReport, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]raceResult, len(sources))
	var winnerIdx atomic.Int32
	winnerIdx.Store(-1)
	var cancelOnce sync.Once
	var wg sync.WaitGroup

	for i, src := range sources {
		i, src := i, src
		tempPath := fmt.Sprintf("%s.race-%d", dest, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			localOpts := opts
			if len(src.Checksum) > 0 {
				localOpts = opts.WithChecksum(src.Checksum)
			}
			report, err := f.subFetcher().Fetch(cctx, src.URL, tempPath, localOpts)
			if err == nil {
				winnerIdx.CompareAndSwap(-1, int32(i))
				cancelOnce.Do(cancel)
			}
			results[i] = raceResult{source: src, report: report, tempPath: tempPath, err: err}
		}()
	}
	wg.Wait()

	win := int(winnerIdx.Load())
	if win < 0 {
		return nil, errs.Newf(errs.NetworkPermanent, "all %d sources failed in race", len(sources))
	}

	for i, r := range results {
		if i == win || r.err != nil || r.report == nil {
			continue
		}
		if len(r.report.Digest) > 0 && len(results[win].report.Digest) > 0 && !verify.Equal(r.report.Digest, results[win].report.Digest) {
			f.cleanupRace(results, -1) // no winner survives a disagreement
			return nil, errs.Newf(errs.HashMismatch, "race sources %q and %q disagree on digest", results[win].source.URL, r.source.URL)
		}
	}

	if err := os.Rename(results[win].tempPath, dest); err != nil {
		f.cleanupRace(results, -1)
		return nil, errs.Wrap(errs.FsAtomicRename, err, "commit race winner")
	}
	f.cleanupRace(results, win)

	report := results[win].report
	report.Path = dest
	return report, nil
}

// cleanupRace removes every temp path except keep's (pass -1 to remove all,
// including the would-be winner, when the race is rejected outright).
func (f *MultiSourceFetcher) cleanupRace(results []raceResult, keep int) {
	for i, r := range results {
		if i == keep || r.tempPath == "" {
			continue
		}
		os.Remove(r.tempPath) //nolint:errcheck
	}
}
