package fetch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pulith/pulith/fetch"
	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	"github.com/pulith/pulith/pkg/testutil"
	"github.com/pulith/pulith/transport"
)

// TestBatchFetchRejectsCycleBeforeAnyJobRuns is the spec's literal scenario
// 7: a two-job cycle (A depends on B, B depends on A) must fail with
// InvalidState before any fetch begins.
func TestBatchFetchRejectsCycleBeforeAnyJobRuns(t *testing.T) {
	mock := transport.NewMock()
	mock.Set("http://example.test/a", transport.MockObject{Body: []byte("a")})
	mock.Set("http://example.test/b", transport.MockObject{Body: []byte("b")})

	dir, err := os.MkdirTemp("", "fetch-batch-cycle-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	jobs := []fetch.Job{
		{ID: "A", URL: "http://example.test/a", Dest: filepath.Join(dir, "a"), DependsOn: []string{"B"}, Options: config.NewFetchOptions()},
		{ID: "B", URL: "http://example.test/b", Dest: filepath.Join(dir, "b"), DependsOn: []string{"A"}, Options: config.NewFetchOptions()},
	}

	bf := fetch.NewBatchFetcher(mock)
	_, err = bf.Fetch(context.Background(), jobs, fetch.BatchOptions{MaxConcurrent: 2})
	if err == nil {
		t.Fatal("expected a cycle to be rejected")
	}
	code, ok := errs.CodeOf(err)
	if !ok || code != errs.InvalidState {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if len(mock.Calls()) != 0 {
		t.Fatalf("expected zero calls before the cycle check rejects the batch, got %d", len(mock.Calls()))
	}
}

func TestBatchFetchRunsDependenciesBeforeDependents(t *testing.T) {
	mock := transport.NewMock()
	mock.Set("http://example.test/base", transport.MockObject{Body: []byte("base content")})
	mock.Set("http://example.test/derived", transport.MockObject{Body: []byte("derived content")})

	dir, err := os.MkdirTemp("", "fetch-batch-deps-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	jobs := []fetch.Job{
		{ID: "base", URL: "http://example.test/base", Dest: filepath.Join(dir, "base"), Options: config.NewFetchOptions()},
		{ID: "derived", URL: "http://example.test/derived", Dest: filepath.Join(dir, "derived"), DependsOn: []string{"base"}, Options: config.NewFetchOptions()},
	}

	bf := fetch.NewBatchFetcher(mock)
	results, err := bf.Fetch(context.Background(), jobs, fetch.BatchOptions{MaxConcurrent: 2})
	testutil.CheckFatal(t, err)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("job %s failed: %v", r.JobID, r.Err)
		}
	}
}

// TestBatchFetchChainAtConcurrencyOneResolvesEveryJob stresses the
// resolve()-triggered launch path: at MaxConcurrent 1, every dependent
// can only ever be dispatched from inside the resolving goroutine of its
// one dependency, never from run()'s initial wave. A job counted
// asynchronously (rather than synchronously before its goroutine is
// spawned) would risk the scheduler's wait returning before the last
// link in the chain was even counted, leaving it a zero-value result.
func TestBatchFetchChainAtConcurrencyOneResolvesEveryJob(t *testing.T) {
	mock := transport.NewMock()
	mock.Set("http://example.test/c1", transport.MockObject{Body: []byte("1")})
	mock.Set("http://example.test/c2", transport.MockObject{Body: []byte("2")})
	mock.Set("http://example.test/c3", transport.MockObject{Body: []byte("3")})

	dir, err := os.MkdirTemp("", "fetch-batch-chain-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	jobs := []fetch.Job{
		{ID: "c1", URL: "http://example.test/c1", Dest: filepath.Join(dir, "c1"), Options: config.NewFetchOptions()},
		{ID: "c2", URL: "http://example.test/c2", Dest: filepath.Join(dir, "c2"), DependsOn: []string{"c1"}, Options: config.NewFetchOptions()},
		{ID: "c3", URL: "http://example.test/c3", Dest: filepath.Join(dir, "c3"), DependsOn: []string{"c2"}, Options: config.NewFetchOptions()},
	}

	bf := fetch.NewBatchFetcher(mock)
	results, err := bf.Fetch(context.Background(), jobs, fetch.BatchOptions{MaxConcurrent: 1})
	testutil.CheckFatal(t, err)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("job %s failed: %v", r.JobID, r.Err)
		}
		if r.Report == nil {
			t.Fatalf("job %s has a zero-value result: never actually ran", r.JobID)
		}
	}
}

func TestBatchFetchFailFastSkipsDependents(t *testing.T) {
	mock := transport.NewMock()
	// "missing" is left unset so it always 404s; "derived" would succeed if run.
	mock.Set("http://example.test/derived2", transport.MockObject{Body: []byte("derived content")})

	dir, err := os.MkdirTemp("", "fetch-batch-failfast-")
	testutil.CheckFatal(t, err)
	defer os.RemoveAll(dir)

	jobs := []fetch.Job{
		{ID: "missing", URL: "http://example.test/missing", Dest: filepath.Join(dir, "missing"), Options: config.NewFetchOptions()},
		{ID: "derived", URL: "http://example.test/derived2", Dest: filepath.Join(dir, "derived2"), DependsOn: []string{"missing"}, Options: config.NewFetchOptions()},
	}

	bf := fetch.NewBatchFetcher(mock)
	results, err := bf.Fetch(context.Background(), jobs, fetch.BatchOptions{MaxConcurrent: 2, FailFast: true})
	testutil.CheckFatal(t, err)

	byID := map[string]fetch.BatchJobResult{}
	for _, r := range results {
		byID[r.JobID] = r
	}
	if byID["missing"].Err == nil {
		t.Fatal("expected missing job to fail")
	}
	if byID["derived"].Err == nil {
		t.Fatal("expected derived job to be skipped because its dependency failed")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "derived2")); !os.IsNotExist(statErr) {
		t.Fatal("expected derived job to never have run")
	}
}
