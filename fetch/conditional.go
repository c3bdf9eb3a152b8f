package fetch

import (
	"context"
	"io"
	"net/http"

	"github.com/pulith/pulith/cache"
	"github.com/pulith/pulith/fsatomic"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/progress"
	"github.com/pulith/pulith/transport"
	"github.com/pulith/pulith/verify"
)

// ConditionalStatus is the outcome of one ConditionalFetcher.Fetch call.
type ConditionalStatus uint8

const (
	Downloaded ConditionalStatus = iota
	NotModified
	LocalMatch
)

func (s ConditionalStatus) String() string {
	switch s {
	case NotModified:
		return "NotModified"
	case LocalMatch:
		return "LocalMatch"
	default:
		return "Downloaded"
	}
}

// ConditionalResult reports what ConditionalFetcher did; Path is only
// meaningful when Status is Downloaded.
type ConditionalResult struct {
	Status ConditionalStatus
	Path   string
	Digest []byte
}

// ConditionalFetcher keeps per-URL ConditionalMetadata (ETag, Last-Modified,
// size, digest) so a repeat fetch can ask the server "has this changed"
// instead of re-downloading unconditionally.
type ConditionalFetcher struct {
	Client transport.HttpClient
	Cache  *cache.Store
}

func NewConditionalFetcher(client transport.HttpClient, store *cache.Store) *ConditionalFetcher {
	return &ConditionalFetcher{Client: client, Cache: store}
}

func (f *ConditionalFetcher) Fetch(ctx context.Context, url, dest string, opts config.FetchOptions) (*ConditionalResult, error) {
	tracker := progress.NewTracker(-1, reporterFrom(opts.OnProgress))
	tracker.AdvancePhase(progress.Connecting)
	tracker.SetCurrentSource(url)

	md, found, err := f.Cache.GetMetadata(url)
	if err != nil {
		return nil, err
	}
	var ifNoneMatch, ifModifiedSince string
	if found {
		ifNoneMatch = md.ETag
		ifModifiedSince = md.LastModified
	}

	tracker.AdvancePhase(progress.Downloading)
	body, resp, err := f.Client.Stream(ctx, url, -1, -1, ifNoneMatch, ifModifiedSince)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotModified {
		tracker.AdvancePhase(progress.Completed)
		return &ConditionalResult{Status: NotModified, Path: dest, Digest: md.Digest}, nil
	}
	defer body.Close()

	algo := algoFor(opts.ChecksumAlgo)
	hasher, err := verify.ByName(algo)
	if err != nil {
		return nil, err
	}
	vr := verify.NewVerifiedReader(body, hasher)
	tracked := progress.NewTrackingReader(withCtx(ctx, vr), tracker)

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

	out, err := ws.CreateFile(stagedFileName)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(out, tracked)
	if err != nil {
		out.Close()
		return nil, errs.Wrap(errs.IO, err, "stream conditional body")
	}
	if err := ws.SyncAndClose(out); err != nil {
		return nil, err
	}
	digest, err := vr.Finish(opts.ExpectedChecksum)
	if err != nil {
		return nil, err
	}

	tracker.AdvancePhase(progress.Verifying)
	if found && len(md.Digest) > 0 && verify.Equal(md.Digest, digest) {
		tracker.AdvancePhase(progress.Completed)
		return &ConditionalResult{Status: LocalMatch, Path: dest, Digest: digest}, nil
	}

	tracker.AdvancePhase(progress.Committing)
	if err := ws.CommitFile(stagedFileName, dest); err != nil {
		return nil, err
	}
	committed = true

	if err := f.Cache.PutMetadata(url, cache.ConditionalMetadata{
		URL: url, ETag: resp.ETag, LastModified: resp.LastModified, Size: n, Digest: digest, DigestAlgo: algo,
	}); err != nil {
		return nil, err
	}
	tracker.AdvancePhase(progress.Completed)
	return &ConditionalResult{Status: Downloaded, Path: dest, Digest: digest}, nil
}
