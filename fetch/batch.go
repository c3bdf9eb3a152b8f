package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulith/pulith/pkg/config"
	"github.com/pulith/pulith/pkg/errs"
	pkgsync "github.com/pulith/pulith/pkg/sync"
	"github.com/pulith/pulith/ratelimit"
	"github.com/pulith/pulith/transport"
)

// Job is one unit of work in a batch: a single-source fetch that may depend
// on other jobs (by ID) completing first.
type Job struct {
	ID        string
	URL       string
	Dest      string
	DependsOn []string
	Options   config.FetchOptions
}

// BatchOptions governs a BatchFetcher run.
type BatchOptions struct {
	MaxConcurrent int
	FailFast      bool
	// Timeout bounds the whole batch, not any individual job. Zero means no
	// deadline: Fetch blocks until every job resolves.
	Timeout time.Duration
}

// BatchJobResult is one job's outcome.
type BatchJobResult struct {
	JobID  string
	Report *FetchReport
	Err    error
}

// BatchFetcher runs a set of jobs forming a DAG, respecting dependency
// edges and a concurrency ceiling.
type BatchFetcher struct {
	Client transport.HttpClient
	Bucket *ratelimit.TokenBucket
}

func NewBatchFetcher(client transport.HttpClient) *BatchFetcher {
	return &BatchFetcher{Client: client}
}

// Fetch validates the job graph (rejecting cycles with InvalidState before
// any fetch begins), then runs it to completion. On success the returned
// slice always has exactly len(jobs) entries, ordered arbitrarily (callers
// should key off JobID).
func (b *BatchFetcher) Fetch(ctx context.Context, jobs []Job, opts BatchOptions) ([]BatchJobResult, error) {
	byID := make(map[string]Job, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.NewString()
			jobs[i] = j
		}
		if _, dup := byID[j.ID]; dup {
			return nil, errs.Newf(errs.InvalidState, "duplicate job id %q", j.ID)
		}
		byID[j.ID] = j
	}
	for _, j := range jobs {
		for _, dep := range j.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, errs.Newf(errs.InvalidState, "job %q depends on unknown job %q", j.ID, dep)
			}
		}
	}
	if err := checkAcyclic(jobs); err != nil {
		return nil, err
	}

	sched := newBatchScheduler(b, byID, opts)
	return sched.run(ctx)
}

// checkAcyclic runs three-color DFS over the dependency graph, rejecting
// any cycle with InvalidState before a single job is dispatched.
func checkAcyclic(jobs []Job) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	color := make(map[string]int, len(jobs))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return errs.Newf(errs.InvalidState, "dependency cycle detected at job %q", id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, j := range jobs {
		if color[j.ID] == white {
			if err := visit(j.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// batchScheduler runs Kahn's algorithm dynamically: jobs become eligible as
// their dependencies resolve, and eligible jobs launch immediately up to
// the concurrency ceiling.
type batchScheduler struct {
	b       *BatchFetcher
	byID    map[string]Job
	opts    BatchOptions
	deps    map[string][]string // id -> ids that depend on it
	indeg   map[string]int
	results map[string]BatchJobResult

	mu      sync.Mutex
	stopped bool
	tg      *pkgsync.TimeoutGroup // counts in-flight jobs; Wait can bound the whole batch
	sema    *pkgsync.DynSemaphore // bounds concurrently running jobs
}

func newBatchScheduler(b *BatchFetcher, byID map[string]Job, opts BatchOptions) *batchScheduler {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = len(byID)
		if limit == 0 {
			limit = 1
		}
	}
	s := &batchScheduler{
		b:       b,
		byID:    byID,
		opts:    opts,
		deps:    make(map[string][]string),
		indeg:   make(map[string]int, len(byID)),
		results: make(map[string]BatchJobResult, len(byID)),
		tg:      pkgsync.NewTimeoutGroup(),
		sema:    pkgsync.NewDynSemaphore(limit),
	}
	for id, j := range byID {
		s.indeg[id] = len(j.DependsOn)
		for _, dep := range j.DependsOn {
			s.deps[dep] = append(s.deps[dep], id)
		}
	}
	return s
}

func (s *batchScheduler) run(ctx context.Context) ([]BatchJobResult, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready []string
	for id, n := range s.indeg {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	for _, id := range ready {
		s.launch(cctx, cancel, id)
	}

	if s.opts.Timeout > 0 {
		if timedOut := s.tg.WaitTimeout(s.opts.Timeout); timedOut {
			cancel()
			s.mu.Lock()
			for id := range s.byID {
				if _, done := s.results[id]; !done {
					s.results[id] = BatchJobResult{
						JobID: id,
						Err:   errs.Newf(errs.TimeoutTotal, "batch did not finish within %s", s.opts.Timeout),
					}
				}
			}
			s.mu.Unlock()
		}
	} else {
		s.tg.Wait()
	}

	out := make([]BatchJobResult, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, s.results[id])
	}
	return out, nil
}

// launch counts id into the timeout group synchronously, then dispatches its
// work in a new goroutine. It is called from run()'s initial wave and from
// resolve() below, which runs inside a tracked job goroutine that still
// holds its semaphore slot: tg.Add(1) never blocks, so it is always safe to
// call before spawning, unlike acquiring the concurrency semaphore would be.
func (s *batchScheduler) launch(ctx context.Context, cancel context.CancelFunc, id string) {
	s.tg.Add(1)
	go s.runJob(ctx, cancel, id)
}

// runJob assumes the caller already counted id into the timeout group via
// tg.Add(1) and releases it via tg.Done() on every exit path. The
// concurrency semaphore is acquired here, inside the new goroutine, not by
// the caller: acquiring it in the resolving goroutine (which is itself
// still holding a semaphore slot until it returns) could deadlock a fully
// saturated batch, since nothing else would be left to release a slot.
func (s *batchScheduler) runJob(ctx context.Context, cancel context.CancelFunc, id string) {
	defer s.tg.Done()
	s.sema.Acquire()
	defer s.sema.Release()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.resolve(ctx, cancel, id, nil, errs.New(errs.InvalidState, nil))
		return
	}

	job := s.byID[id]
	sub := NewFetcher(s.b.Client)
	if s.b.Bucket != nil {
		sub.WithBucket(s.b.Bucket)
	}
	report, err := sub.Fetch(ctx, job.URL, job.Dest, job.Options)
	s.resolve(ctx, cancel, id, report, err)
}

// resolve records id's outcome and, on success, makes its dependents
// eligible once every one of their dependencies has resolved. On failure it
// cascades a "dependency failed" result down to every downstream job
// without ever fetching them.
func (s *batchScheduler) resolve(ctx context.Context, cancel context.CancelFunc, id string, report *FetchReport, err error) {
	s.mu.Lock()
	s.results[id] = BatchJobResult{JobID: id, Report: report, Err: err}
	if err != nil && s.opts.FailFast {
		s.stopped = true
		cancel()
	}
	var toLaunch []string
	if err != nil {
		s.cascadeFailureLocked(id)
	} else {
		for _, dependent := range s.deps[id] {
			s.indeg[dependent]--
			if s.indeg[dependent] == 0 {
				if _, already := s.results[dependent]; !already {
					toLaunch = append(toLaunch, dependent)
				}
			}
		}
	}
	s.mu.Unlock()

	for _, next := range toLaunch {
		// launch() calls tg.Add(1) synchronously, in this resolving
		// goroutine, before its own deferred tg.Done() (in runJob) can
		// fire: otherwise tg.Wait() could observe the count reach zero
		// before the new job is even counted, and run() would return with
		// the dependent's result still a zero-value BatchJobResult.
		s.launch(ctx, cancel, next)
	}
}

// cascadeFailureLocked must be called with mu held. It marks every
// transitive dependent of a failed job as failed-by-dependency, without
// launching them, so the DAG never runs a job whose prerequisite broke.
func (s *batchScheduler) cascadeFailureLocked(id string) {
	for _, dependent := range s.deps[id] {
		if _, already := s.results[dependent]; already {
			continue
		}
		s.results[dependent] = BatchJobResult{
			JobID: dependent,
			Err:   errs.Newf(errs.InvalidState, "skipped: dependency %q failed", id),
		}
		s.cascadeFailureLocked(dependent)
	}
}
