package fetch

import (
	"context"
	"io"
	"time"

	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/progress"
	"github.com/pulith/pulith/ratelimit"
	"github.com/pulith/pulith/transport"
	"github.com/pulith/pulith/verify"
)

const stagedFileName = "fetched"

// Fetcher is the single-source strategy: HEAD for size, stream through
// verification and optional throttling, stage into a workspace, commit.
type Fetcher struct {
	Client transport.HttpClient
	Bucket *ratelimit.TokenBucket // nil means unthrottled
}

func NewFetcher(client transport.HttpClient) *Fetcher {
	return &Fetcher{Client: client}
}

func (f *Fetcher) WithBucket(b *ratelimit.TokenBucket) *Fetcher {
	f.Bucket = b
	return f
}

func algoFor(name string) string {
	if name == "" {
		return "sha256"
	}
	return name
}

func (f *Fetcher) Fetch(ctx context.Context, url, dest string, opts config.FetchOptions) (*FetchReport, error) {
	started := time.Now()
	tracker := progress.NewTracker(-1, reporterFrom(opts.OnProgress))
	tracker.AdvancePhase(progress.Connecting)
	tracker.SetCurrentSource(url)

	if head, err := f.Client.Head(ctx, url); err == nil && head.ContentLength > 0 {
		tracker.SetTotalBytes(head.ContentLength)
	}

	ws, err := fsatomic.AllocateWorkspace(dest)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			ws.Abort()
		}
	}()

	var attempts []SourceAttempt
	algo := algoFor(opts.ChecksumAlgo)
	hasher, err := verify.ByName(algo)
	if err != nil {
		return nil, err
	}

	tracker.AdvancePhase(progress.Downloading)

	var digest []byte
	var totalWritten int64
	for attempt := 0; ; attempt++ {
		attemptStart := time.Now()
		hasher, _ = verify.ByName(algo) // fresh hasher per attempt; no partial-digest carryover
		digest, totalWritten, err = f.attemptOnce(ctx, url, ws, hasher, tracker, opts)
		attempts = append(attempts, SourceAttempt{URL: url, Attempt: attempt, Succeeded: err == nil, Err: err, Started: attemptStart, Duration: time.Since(attemptStart)})
		if err == nil {
			break
		}
		if !opts.Retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		tracker.IncrRetry()
		delay := config.RetryDelay(attempt, opts.Retry.BaseDelay, opts.Retry.MaxDelay, opts.Retry.Jitter)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	tracker.AdvancePhase(progress.Verifying)
	tracker.AdvancePhase(progress.Committing)
	if err := ws.CommitFile(stagedFileName, dest); err != nil {
		return nil, err
	}
	committed = true
	tracker.AdvancePhase(progress.Completed)

	return &FetchReport{
		RunID:      newRunID(),
		Path:       dest,
		TotalBytes: totalWritten,
		Digest:     digest,
		DigestAlgo: algo,
		Attempts:   attempts,
		Started:    started,
		Duration:   time.Since(started),
		Metrics:    tracker.Snapshot(),
	}, nil
}

// attemptOnce performs one full stream-and-stage attempt, returning the
// digest and byte count on success.
func (f *Fetcher) attemptOnce(ctx context.Context, url string, ws *fsatomic.Workspace, hasher verify.Hasher, tracker *progress.Tracker, opts config.FetchOptions) ([]byte, int64, error) {
	body, _, err := f.Client.Stream(ctx, url, -1, -1, "", "")
	if err != nil {
		return nil, 0, err
	}
	defer body.Close()

	vr := verify.NewVerifiedReader(body, hasher)
	var reader io.Reader = vr
	if f.Bucket != nil {
		reader = ratelimit.NewThrottledReader(ctx, vr, chunkSize(opts), f.Bucket)
	}
	reader = withCtx(ctx, reader)
	tracked := progress.NewTrackingReader(reader, tracker)

	out, err := ws.CreateFile(stagedFileName)
	if err != nil {
		return nil, 0, err
	}
	n, err := io.Copy(out, tracked)
	if err != nil {
		out.Close()
		return nil, 0, errs.Wrap(errs.IO, err, "stream to staged file")
	}
	if err := ws.SyncAndClose(out); err != nil {
		return nil, 0, err
	}
	digest, err := vr.Finish(opts.ExpectedChecksum)
	if err != nil {
		return nil, n, err
	}
	return digest, n, nil
}

func chunkSize(opts config.FetchOptions) int {
	if opts.ChunkSize > 0 {
		return opts.ChunkSize
	}
	return config.DefaultChunkSize
}
