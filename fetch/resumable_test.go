package fetch_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pulith/pulith/cache"
	"github.com/pulith/pulith/fetch"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/testutil"
	"github.com/pulith/pulith/transport"
)

// flakyOnceClient wraps an HttpClient and makes the first Stream call (from
// a non-resumed offset) fail after a fixed number of bytes, simulating a
// transient mid-download disconnect. Subsequent calls stream through
// untouched, modeling a second process attempt after a restart.
type flakyOnceClient struct {
	transport.HttpClient
	failAfter int
	tripped   bool
}

func (c *flakyOnceClient) Stream(ctx context.Context, url string, rangeStart, rangeEnd int64, inm, ims string) (io.ReadCloser, *transport.Response, error) {
	body, resp, err := c.HttpClient.Stream(ctx, url, rangeStart, rangeEnd, inm, ims)
	if err != nil || c.tripped || rangeStart > 0 {
		return body, resp, err
	}
	c.tripped = true
	return &truncatingReadCloser{r: body, limit: c.failAfter}, resp, nil
}

type truncatingReadCloser struct {
	r     io.ReadCloser
	limit int
	read  int
}

func (t *truncatingReadCloser) Read(p []byte) (int, error) {
	if t.read >= t.limit {
		return 0, errors.New("simulated transient stream error")
	}
	if len(p) > t.limit-t.read {
		p = p[:t.limit-t.read]
	}
	n, err := t.r.Read(p)
	t.read += n
	return n, err
}

func (t *truncatingReadCloser) Close() error { return t.r.Close() }

// TestResumableFetchResumesAfterTransientError is the spec's literal
// scenario 4: a 1000-byte object, first attempt streams 600 bytes then
// errors; the checkpoint records 600 bytes completed. A second attempt
// issues Range: bytes=600- and appends the remaining 400, committing a
// full 1000-byte file and clearing the checkpoint.
func TestResumableFetchResumesAfterTransientError(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	mock := transport.NewMock()
	mock.Set("http://example.test/resumable", transport.MockObject{Body: data})
	flaky := &flakyOnceClient{HttpClient: mock, failAfter: 600}

	dir, err := os.MkdirTemp("", "fetch-resumable-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "resumable")

	store, err := cache.Open(cache.Options{Path: filepath.Join(dir, "cache.db")})
	testutil.CheckFatal(t, err)
	defer store.Close()

	digest := sha256.Sum256(data)
	opts := config.NewFetchOptions().WithChecksum(digest[:])

	rf := fetch.NewResumableFetcher(flaky, store)

	_, err = rf.Fetch(context.Background(), "http://example.test/resumable", dest, opts)
	if err == nil {
		t.Fatal("expected first attempt to fail with a transient stream error")
	}

	cp, found, err := store.GetCheckpoint("http://example.test/resumable")
	testutil.CheckFatal(t, err)
	if !found {
		t.Fatal("expected a checkpoint to be persisted after the transient failure")
	}
	testutil.DeepEqual(t, int64(600), cp.BytesCompleted)

	report, err := rf.Fetch(context.Background(), "http://example.test/resumable", dest, opts)
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, int64(1000), report.TotalBytes)

	got, err := os.ReadFile(dest)
	testutil.CheckFatal(t, err)
	testutil.DeepEqual(t, data, got)

	_, found, err = store.GetCheckpoint("http://example.test/resumable")
	testutil.CheckFatal(t, err)
	if found {
		t.Fatal("expected checkpoint to be deleted after a successful commit")
	}
}
