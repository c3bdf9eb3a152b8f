package fetch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pulith/pulith/cache"
	"github.com/pulith/pulith/fetch"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/testutil"
	"github.com/pulith/pulith/transport"
)

func TestConditionalFetchThenNotModified(t *testing.T) {
	mock := transport.NewMock()
	mock.Set("http://example.test/cond", transport.MockObject{Body: []byte("v1 content"), ETag: `"v1"`})

	dir, err := os.MkdirTemp("", "fetch-conditional-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "cond")

	store, err := cache.Open(cache.Options{Path: filepath.Join(dir, "cache.db")})
	testutil.CheckFatal(t, err)
	defer store.Close()

	cf := fetch.NewConditionalFetcher(mock, store)

	first, err := cf.Fetch(context.Background(), "http://example.test/cond", dest, config.NewFetchOptions())
	testutil.CheckFatal(t, err)
	if first.Status != fetch.Downloaded {
		t.Fatalf("expected first fetch to download, got %v", first.Status)
	}

	second, err := cf.Fetch(context.Background(), "http://example.test/cond", dest, config.NewFetchOptions())
	testutil.CheckFatal(t, err)
	if second.Status != fetch.NotModified {
		t.Fatalf("expected second fetch against an unchanged ETag to be NotModified, got %v", second.Status)
	}
}

func TestConditionalFetchLocalMatchWhenDigestSame(t *testing.T) {
	mock := transport.NewMock()
	body := []byte("same bytes every time")
	// no ETag/Last-Modified set, so the server always answers 200 — the
	// fetcher must fall back to comparing digests to recognize unchanged content.
	mock.Set("http://example.test/nocond", transport.MockObject{Body: body})

	dir, err := os.MkdirTemp("", "fetch-localmatch-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)
	dest := filepath.Join(dir, "nocond")

	store, err := cache.Open(cache.Options{Path: filepath.Join(dir, "cache.db")})
	testutil.CheckFatal(t, err)
	defer store.Close()

	cf := fetch.NewConditionalFetcher(mock, store)

	first, err := cf.Fetch(context.Background(), "http://example.test/nocond", dest, config.NewFetchOptions())
	testutil.CheckFatal(t, err)
	if first.Status != fetch.Downloaded {
		t.Fatalf("expected first fetch to download, got %v", first.Status)
	}

	second, err := cf.Fetch(context.Background(), "http://example.test/nocond", dest, config.NewFetchOptions())
	testutil.CheckFatal(t, err)
	if second.Status != fetch.LocalMatch {
		t.Fatalf("expected second fetch with identical bytes to be LocalMatch, got %v", second.Status)
	}
	testutil.DeepEqual(t, first.Digest, second.Digest)
}
