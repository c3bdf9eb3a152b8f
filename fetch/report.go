package fetch

import (
	"time"

	"github.com/google/uuid"

	"github.com/pulith/pulith/progress"
)

// SourceAttempt records one attempt against one source URL, used by
// multi-source and retry-aware strategies to build FetchReport.Attempts.
type SourceAttempt struct {
	URL       string
	Attempt   int
	Succeeded bool
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// FetchReport is the terminal result of any strategy's Fetch.
type FetchReport struct {
	RunID      string
	Path       string
	TotalBytes int64
	Digest     []byte
	DigestAlgo string
	Attempts   []SourceAttempt
	Started    time.Time
	Duration   time.Duration
	Metrics    progress.ExtendedProgress
}

// newRunID stamps every FetchReport with a unique identifier, independent
// of caller-supplied job or checkpoint keys, so callers can correlate a
// report with logs or metrics emitted during the run.
func newRunID() string {
	return uuid.NewString()
}
