package fetch

import (
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/progress"
	"github.com/pulith/pulith/ratelimit"
	"github.com/pulith/pulith/transport"
	"github.com/pulith/pulith/verify"
)

// SegmentedFetcher downloads a single source's byte ranges concurrently,
// requiring server Range support. Grounded on the spec's calculate_segments
// partitioning plus the teacher's bounded-concurrency jogger pattern,
// expressed here with errgroup instead of a hand-rolled worker pool.
type SegmentedFetcher struct {
	Client        transport.HttpClient
	Bucket        *ratelimit.TokenBucket
	MaxConcurrent int
}

func NewSegmentedFetcher(client transport.HttpClient, numSegments int) *SegmentedFetcher {
	return &SegmentedFetcher{Client: client, MaxConcurrent: numSegments}
}

func (f *SegmentedFetcher) Fetch(ctx context.Context, url, dest string, numSegments int, opts config.FetchOptions) (*FetchReport, error) {
	started := time.Now()
	tracker := progress.NewTracker(-1, reporterFrom(opts.OnProgress))
	tracker.AdvancePhase(progress.Connecting)
	tracker.SetCurrentSource(url)

	head, err := f.Client.Head(ctx, url)
	if err != nil {
		return nil, err
	}
	if !head.AcceptRanges {
		return nil, errs.New(errs.RangeUnsupported, nil)
	}
	if head.ContentLength <= 0 {
		return nil, errs.Newf(errs.InvalidState, "segmented fetch requires a known content length")
	}
	tracker.SetTotalBytes(head.ContentLength)

	segments, err := CalculateSegments(head.ContentLength, numSegments)
	if err != nil {
		return nil, err
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

	staged, err := ws.CreateFile(stagedFileName)
	if err != nil {
		return nil, err
	}
	if err := staged.Truncate(head.ContentLength); err != nil {
		staged.Close()
		return nil, errs.Wrap(errs.IO, err, "preallocate staged file")
	}

	tracker.AdvancePhase(progress.Downloading)

	limit := f.MaxConcurrent
	if limit <= 0 {
		limit = numSegments
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, seg := range segments {
		seg := seg
		g.Go(func() error {
			return f.fetchSegment(gctx, url, staged, seg, tracker, opts)
		})
	}
	if err := g.Wait(); err != nil {
		staged.Close()
		return nil, err
	}

	if err := ws.SyncAndClose(staged); err != nil {
		return nil, err
	}

	tracker.AdvancePhase(progress.Verifying)
	digest, err := digestStagedFile(ws, algoFor(opts.ChecksumAlgo))
	if err != nil {
		return nil, err
	}
	if len(opts.ExpectedChecksum) > 0 && !verify.Equal(opts.ExpectedChecksum, digest) {
		return nil, errs.NewHashMismatch(opts.ExpectedChecksum, digest)
	}

	tracker.AdvancePhase(progress.Committing)
	if err := ws.CommitFile(stagedFileName, dest); err != nil {
		return nil, err
	}
	committed = true
	tracker.AdvancePhase(progress.Completed)

	return &FetchReport{
		RunID:      newRunID(),
		Path:       dest,
		TotalBytes: head.ContentLength,
		Digest:     digest,
		DigestAlgo: algoFor(opts.ChecksumAlgo),
		Started:    started,
		Duration:   time.Since(started),
		Metrics:    tracker.Snapshot(),
	}, nil
}

func (f *SegmentedFetcher) fetchSegment(ctx context.Context, url string, staged *os.File, seg Segment, tracker *progress.Tracker, opts config.FetchOptions) error {
	body, _, err := f.Client.Stream(ctx, url, seg.Start, seg.End, "", "")
	if err != nil {
		return err
	}
	defer body.Close()

	var reader io.Reader = body
	if f.Bucket != nil {
		reader = ratelimit.NewThrottledReader(ctx, body, chunkSize(opts), f.Bucket)
	}
	reader = withCtx(ctx, reader)
	tracked := progress.NewSegmentTrackingReader(reader, tracker, seg.Index)

	w := &offsetWriter{f: staged, offset: seg.Start}
	if _, err := io.Copy(w, tracked); err != nil {
		return errs.Wrap(errs.IO, err, "write segment")
	}
	return nil
}

// offsetWriter adapts os.File.WriteAt, advancing its own cursor, to the
// io.Writer interface io.Copy expects.
type offsetWriter struct {
	f      *os.File
	offset int64
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.offset)
	w.offset += int64(n)
	return n, err
}

// digestStagedFile hashes the staged file sequentially after all segments
// land, since segment arrival order is not the byte order.
func digestStagedFile(ws *fsatomic.Workspace, algo string) ([]byte, error) {
	path, err := ws.Path(stagedFileName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "reopen staged file for digest")
	}
	defer f.Close()

	hasher, err := verify.ByName(algo)
	if err != nil {
		return nil, err
	}
	vr := verify.NewVerifiedReader(f, hasher)
	if _, err := io.Copy(io.Discard, vr); err != nil {
		return nil, errs.Wrap(errs.IO, err, "hash staged file")
	}
	return vr.Finish(nil)
}
