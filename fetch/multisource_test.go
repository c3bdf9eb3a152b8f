package fetch_test

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulith/pulith/fetch"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/testutil"
	"github.com/pulith/pulith/transport"
)

// delayedClient inserts a fixed delay before every Read on the named slow
// URLs' bodies, so a race between in-memory mock sources has a genuine
// faster/slower outcome instead of resolving on goroutine-scheduling luck.
type delayedClient struct {
	transport.HttpClient
	delay    time.Duration
	slowURLs map[string]bool
}

func (c *delayedClient) Stream(ctx context.Context, url string, rangeStart, rangeEnd int64, inm, ims string) (io.ReadCloser, *transport.Response, error) {
	body, resp, err := c.HttpClient.Stream(ctx, url, rangeStart, rangeEnd, inm, ims)
	if err != nil || !c.slowURLs[url] {
		return body, resp, err
	}
	return &delayedReadCloser{r: body, delay: c.delay}, resp, nil
}

type delayedReadCloser struct {
	r     io.ReadCloser
	delay time.Duration
}

func (d *delayedReadCloser) Read(p []byte) (int, error) {
	time.Sleep(d.delay)
	return d.r.Read(p)
}

func (d *delayedReadCloser) Close() error { return d.r.Close() }

func TestMultiSourcePriorityFallsBackOnError(t *testing.T) {
	mock := transport.NewMock()
	mock.Set("http://example.test/good", transport.MockObject{Body: []byte("good content")})
	// "bad" is left unset, so Head/Stream return NotFound.

	dir, err := os.MkdirTemp("", "fetch-priority-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "out")

	msOpts := config.NewMultiSourceOptions(config.Priority).
		WithSource(config.DownloadSource{URL: "http://example.test/bad", Priority: 0}).
		WithSource(config.DownloadSource{URL: "http://example.test/good", Priority: 1})

	mf := fetch.NewMultiSourceFetcher(mock)
	report, err := mf.Fetch(context.Background(), dest, msOpts, config.NewFetchOptions())
	testutil.CheckFatal(t, err)
	if report.Path != dest {
		t.Fatalf("expected commit to %s, got %s", dest, report.Path)
	}
	got, err := os.ReadFile(dest)
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, []byte("good content"), got)
}

// TestMultiSourceRaceMismatchedDigestsPicksFasterWinner is the spec's
// literal scenario 6: two sources with different content and different
// per-source checksums race; the faster source wins and commits its own
// content, and the slower one's race temp file is removed.
func TestMultiSourceRaceMismatchedDigestsPicksFasterWinner(t *testing.T) {
	mock := transport.NewMock()
	fastBody := []byte("fast source body")
	slowBody := []byte("slow source body, different content entirely")
	mock.Set("http://example.test/fast", transport.MockObject{Body: fastBody})
	mock.Set("http://example.test/slow", transport.MockObject{Body: slowBody})
	delayed := &delayedClient{HttpClient: mock, delay: 30 * time.Millisecond, slowURLs: map[string]bool{"http://example.test/slow": true}}

	fastDigest := sha256.Sum256(fastBody)
	slowDigest := sha256.Sum256(slowBody)

	dir, err := os.MkdirTemp("", "fetch-race-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "out")

	msOpts := config.NewMultiSourceOptions(config.Race).
		WithSource(config.DownloadSource{URL: "http://example.test/fast", Priority: 0, Checksum: fastDigest[:]}).
		WithSource(config.DownloadSource{URL: "http://example.test/slow", Priority: 1, Checksum: slowDigest[:]})

	mf := fetch.NewMultiSourceFetcher(delayed)
	report, err := mf.Fetch(context.Background(), dest, msOpts, config.NewFetchOptions())
	testutil.CheckFatal(t, err)

	got, err := os.ReadFile(dest)
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, fastBody, got)
	testutil.DeepEqual(t, int64(len(fastBody)), report.TotalBytes)

	entries, err := os.ReadDir(dir)
	testutil.CheckFatal(t, err)
	for _, e := range entries {
		if e.Name() != filepath.Base(dest) {
			t.Fatalf("expected no leftover race temp files, found %s", e.Name())
		}
	}
}
