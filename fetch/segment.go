// Package fetch implements the fetch engine: single-source, segmented,
// resumable, conditional, multi-source and batch download strategies built
// on top of transport, ratelimit, verify, fsatomic, progress and cache.
// Grounded on the teacher's downloader package structure (jobs dispatched to
// workers, progressReader-style byte accounting) generalized from AIStore's
// cluster-internal object downloads to arbitrary HTTP(S)/cloud sources.
package fetch

import (
	"github.com/pulith/pulith/pkg/errs"
)

// Segment is a half-open byte range [Start, End) with its index in the
// partition.
type Segment struct {
	Index int
	Start int64
	End   int64
}

func (s Segment) Len() int64 { return s.End - s.Start }

// CalculateSegments partitions [0, total) into n half-open ranges whose
// union is exactly [0, total): start(k) = ceil(k*total/n), with the last
// segment's end pinned to total so rounding never leaves a gap.
func CalculateSegments(total int64, n int) ([]Segment, error) {
	if total < 1 {
		return nil, errs.Newf(errs.InvalidState, "total must be >= 1, got %d", total)
	}
	if n < 1 {
		return nil, errs.Newf(errs.InvalidState, "segment count must be >= 1, got %d", n)
	}
	segments := make([]Segment, n)
	var prevEnd int64
	for k := 0; k < n; k++ {
		start := prevEnd
		var end int64
		if k == n-1 {
			end = total
		} else {
			end = ceilDiv(int64(k+1)*total, int64(n))
		}
		segments[k] = Segment{Index: k, Start: start, End: end}
		prevEnd = end
	}
	return segments, nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
