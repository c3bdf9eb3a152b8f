package fetch

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pulith/pulith/cache"
	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/pkg/ioutil"
	"github.com/pulith/pulith/progress"
	"github.com/pulith/pulith/ratelimit"
	"github.com/pulith/pulith/transport"
	"github.com/pulith/pulith/verify"
)

// ResumableFetcher consults a persisted checkpoint so a caller can retry a
// failed attempt (a fresh process invocation, not an internal retry loop)
// and pick up where the last one left off. Two resumers against the same
// destination serialize via an interprocess lock on dest's lock sibling, so
// only one ever owns the partial file at a time.
type ResumableFetcher struct {
	Client             transport.HttpClient
	Bucket             *ratelimit.TokenBucket
	Cache              *cache.Store
	CheckpointEveryN   int           // persist every N chunks written
	CheckpointInterval time.Duration // or every this often, whichever comes first
}

func NewResumableFetcher(client transport.HttpClient, store *cache.Store) *ResumableFetcher {
	return &ResumableFetcher{Client: client, Cache: store, CheckpointEveryN: 16, CheckpointInterval: 2 * time.Second}
}

func partialPath(dest string) string { return dest + ".part" }

func (f *ResumableFetcher) Fetch(ctx context.Context, url, dest string, opts config.FetchOptions) (*FetchReport, error) {
	started := time.Now()
	tracker := progress.NewTracker(-1, reporterFrom(opts.OnProgress))
	tracker.AdvancePhase(progress.Connecting)
	tracker.SetCurrentSource(url)

	tx, err := fsatomic.OpenTransaction(dest)
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	head, err := f.Client.Head(ctx, url)
	if err != nil {
		return nil, err
	}
	tracker.SetTotalBytes(head.ContentLength)

	partial := partialPath(dest)
	var startOffset int64
	cp, found, err := f.Cache.GetCheckpoint(url)
	if err != nil {
		return nil, err
	}
	if found && cp.TotalSize == head.ContentLength && cp.PartialPath == partial {
		startOffset = cp.BytesCompleted
	}

	flags := os.O_WRONLY | os.O_CREATE
	if startOffset == 0 {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open partial file")
	}
	if startOffset > 0 {
		if _, err := out.Seek(startOffset, io.SeekStart); err != nil {
			out.Close()
			return nil, errs.Wrap(errs.IO, err, "seek partial file")
		}
	}

	tracker.AdvancePhase(progress.Downloading)
	body, _, err := f.Client.Stream(ctx, url, startOffset, -1, "", "")
	if err != nil {
		out.Close()
		return nil, err
	}
	defer body.Close()

	var reader io.Reader = body
	if f.Bucket != nil {
		reader = ratelimit.NewThrottledReader(ctx, body, chunkSize(opts), f.Bucket)
	}
	reader = withCtx(ctx, reader)
	tracked := progress.NewTrackingReader(reader, tracker)

	written, copyErr := f.copyWithCheckpoints(out, tracked, url, partial, head.ContentLength, startOffset, chunkSize(opts))
	bytesCompleted := startOffset + written

	if copyErr != nil {
		out.Close()
		f.Cache.PutCheckpoint(url, cache.DownloadCheckpoint{ //nolint:errcheck
			URL: url, TotalSize: head.ContentLength, BytesCompleted: bytesCompleted, PartialPath: partial,
		})
		return nil, copyErr
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return nil, errs.Wrap(errs.IO, err, "fsync partial file")
	}
	if err := out.Close(); err != nil {
		return nil, errs.Wrap(errs.IO, err, "close partial file")
	}

	if bytesCompleted != head.ContentLength {
		f.Cache.PutCheckpoint(url, cache.DownloadCheckpoint{ //nolint:errcheck
			URL: url, TotalSize: head.ContentLength, BytesCompleted: bytesCompleted, PartialPath: partial,
		})
		return nil, errs.Newf(errs.InvalidState, "incomplete download: got %d of %d bytes", bytesCompleted, head.ContentLength)
	}

	tracker.AdvancePhase(progress.Verifying)
	digest, err := digestFile(partial, algoFor(opts.ChecksumAlgo))
	if err != nil {
		return nil, err
	}
	if len(opts.ExpectedChecksum) > 0 && !verify.Equal(opts.ExpectedChecksum, digest) {
		return nil, errs.NewHashMismatch(opts.ExpectedChecksum, digest)
	}

	tracker.AdvancePhase(progress.Committing)
	if err := fsatomic.CommitRename(partial, dest); err != nil {
		return nil, err
	}
	if err := f.Cache.DeleteCheckpoint(url); err != nil {
		return nil, err
	}
	tracker.AdvancePhase(progress.Completed)

	return &FetchReport{
		RunID:      newRunID(),
		Path:       dest,
		TotalBytes: bytesCompleted,
		Digest:     digest,
		DigestAlgo: algoFor(opts.ChecksumAlgo),
		Started:    started,
		Duration:   time.Since(started),
		Metrics:    tracker.Snapshot(),
	}, nil
}

// copyWithCheckpoints streams src into dst, persisting a checkpoint every
// CheckpointEveryN chunks or CheckpointInterval, whichever comes first.
func (f *ResumableFetcher) copyWithCheckpoints(dst *os.File, src io.Reader, url, partial string, total, startOffset int64, chunk int) (int64, error) {
	pool := ioutil.NewChunkPool(chunk)
	buf := pool.Get()
	defer pool.Put(buf)
	var written int64
	var sinceCheckpoint int
	lastCheckpoint := time.Now()
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, errs.Wrap(errs.IO, werr, "write partial file")
			}
			written += int64(n)
			sinceCheckpoint++
			if sinceCheckpoint >= f.CheckpointEveryN || time.Since(lastCheckpoint) >= f.CheckpointInterval {
				f.Cache.PutCheckpoint(url, cache.DownloadCheckpoint{ //nolint:errcheck
					URL: url, TotalSize: total, BytesCompleted: startOffset + written, PartialPath: partial,
				})
				sinceCheckpoint = 0
				lastCheckpoint = time.Now()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, errs.Wrap(errs.IO, rerr, "read from source")
		}
	}
}

func digestFile(path, algo string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open file for digest")
	}
	defer f.Close()
	hasher, err := verify.ByName(algo)
	if err != nil {
		return nil, err
	}
	vr := verify.NewVerifiedReader(f, hasher)
	if _, err := io.Copy(io.Discard, vr); err != nil {
		return nil, errs.Wrap(errs.IO, err, "hash file")
	}
	return vr.Finish(nil)
}
