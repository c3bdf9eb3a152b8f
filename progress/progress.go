// Package progress implements the fetch engine's progress and metrics
// reporting: a Phase enum, Progress/ExtendedProgress snapshots, and a
// Tracker that accumulates byte counts into an EMA rate and ETA estimate.
// Grounded on the teacher's downloader progressReader, which wraps an
// io.Reader's Read to notify a reporter func of bytes read per call; Tracker
// generalizes that single callback into the full metrics surface the spec
// names.
package progress

import (
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
)

type Phase uint8

const (
	Connecting Phase = iota
	Downloading
	Verifying
	Committing
	Completed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "Connecting"
	case Downloading:
		return "Downloading"
	case Verifying:
		return "Verifying"
	case Committing:
		return "Committing"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// rank gives phases a total order so transitions can be checked one-way.
func (p Phase) rank() int { return int(p) }

type Progress struct {
	Phase      Phase
	BytesDone  int64
	TotalBytes int64 // -1 if unknown
	RetryCount int
}

type ExtendedProgress struct {
	Progress
	RateBps          float64
	ETA              time.Duration // 0 if not known
	PerPhaseDuration map[Phase]time.Duration
	CurrentSource    string
	PerSegmentBytes  map[int]int64
	PeakRateBps      float64
	Reconnections    int
}

// Reporter receives progress snapshots; implementations must return
// quickly, matching the spec's callback-ownership note.
type Reporter func(ExtendedProgress)

const emaAlpha = 0.2 // matches the ~5-sample smoothing window used elsewhere in the stack

// Tracker accumulates one fetch's progress. Safe for concurrent use: bytes
// are added from segment workers, snapshots are read from a reporter
// goroutine or polling caller.
type Tracker struct {
	mu sync.Mutex

	phase      Phase
	bytesDone  atomic.Int64
	totalBytes int64
	retryCount atomic.Int32
	reconnects atomic.Int32

	startedAt      time.Time
	phaseStartedAt time.Time
	phaseDurations map[Phase]time.Duration

	lastSampleAt   time.Time
	lastSampleDone int64
	rateEMA        float64
	peakRate       float64

	currentSource string
	segmentBytes  map[int]int64

	history    []ExtendedProgress
	historyCap int

	onProgress Reporter
	clock      func() time.Time
}

func NewTracker(totalBytes int64, onProgress Reporter) *Tracker {
	now := time.Now()
	return &Tracker{
		phase:          Connecting,
		totalBytes:     totalBytes,
		startedAt:      now,
		phaseStartedAt: now,
		phaseDurations: make(map[Phase]time.Duration),
		lastSampleAt:   now,
		segmentBytes:   make(map[int]int64),
		historyCap:     64,
		onProgress:     onProgress,
		clock:          time.Now,
	}
}

// AdvancePhase moves the tracker forward one-way; calling with a phase whose
// rank is not greater than the current phase is a no-op, preserving the
// spec's "phase transitions are one-way forward" invariant.
func (t *Tracker) AdvancePhase(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.rank() <= t.phase.rank() {
		return
	}
	now := t.clock()
	t.phaseDurations[t.phase] += now.Sub(t.phaseStartedAt)
	t.phase = p
	t.phaseStartedAt = now
	t.emit()
}

// AddBytes records n more completed bytes, non-decreasing bytes_done.
func (t *Tracker) AddBytes(n int64) {
	t.bytesDone.Add(n)
	t.sampleRate()
	t.mu.Lock()
	t.emit()
	t.mu.Unlock()
}

// AddSegmentBytes attributes n bytes to a specific segment index, for
// per-segment progress maps in multi-segment fetches.
func (t *Tracker) AddSegmentBytes(segment int, n int64) {
	t.mu.Lock()
	t.segmentBytes[segment] += n
	t.mu.Unlock()
	t.AddBytes(n)
}

func (t *Tracker) SetCurrentSource(source string) {
	t.mu.Lock()
	t.currentSource = source
	t.mu.Unlock()
}

// SetTotalBytes records a total discovered after construction (e.g. once a
// HEAD response arrives), enabling ETA once a rate is established.
func (t *Tracker) SetTotalBytes(n int64) {
	t.mu.Lock()
	t.totalBytes = n
	t.mu.Unlock()
}

func (t *Tracker) IncrRetry() { t.retryCount.Add(1) }

func (t *Tracker) IncrReconnect() { t.reconnects.Add(1) }

func (t *Tracker) sampleRate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	elapsed := now.Sub(t.lastSampleAt).Seconds()
	if elapsed <= 0 {
		return
	}
	done := t.bytesDone.Load()
	instant := float64(done-t.lastSampleDone) / elapsed
	if t.rateEMA == 0 {
		t.rateEMA = instant
	} else {
		t.rateEMA = emaAlpha*instant + (1-emaAlpha)*t.rateEMA
	}
	if t.rateEMA > t.peakRate {
		t.peakRate = t.rateEMA
	}
	t.lastSampleAt = now
	t.lastSampleDone = done
}

// Snapshot returns the tracker's current state. Must be called without
// holding mu (acquires it internally).
func (t *Tracker) Snapshot() ExtendedProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() ExtendedProgress {
	done := t.bytesDone.Load()
	total := t.totalBytes
	var eta time.Duration
	if t.rateEMA > 0 && total > 0 {
		remaining := total - done
		if remaining > 0 {
			eta = time.Duration(float64(remaining)/t.rateEMA) * time.Second
		}
	}
	perPhase := make(map[Phase]time.Duration, len(t.phaseDurations)+1)
	for k, v := range t.phaseDurations {
		perPhase[k] = v
	}
	perPhase[t.phase] += t.clock().Sub(t.phaseStartedAt)

	segments := make(map[int]int64, len(t.segmentBytes))
	for k, v := range t.segmentBytes {
		segments[k] = v
	}

	return ExtendedProgress{
		Progress: Progress{
			Phase:      t.phase,
			BytesDone:  done,
			TotalBytes: total,
			RetryCount: int(t.retryCount.Load()),
		},
		RateBps:          t.rateEMA,
		ETA:              eta,
		PerPhaseDuration: perPhase,
		CurrentSource:    t.currentSource,
		PerSegmentBytes:  segments,
		PeakRateBps:      t.peakRate,
		Reconnections:    int(t.reconnects.Load()),
	}
}

// emit must be called with mu held; appends to the bounded history and
// invokes the reporter, if any.
func (t *Tracker) emit() {
	snap := t.snapshotLocked()
	t.history = append(t.history, snap)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
	if t.onProgress != nil {
		t.onProgress(snap)
	}
}

// History returns a bounded, most-recent-last slice of past snapshots.
func (t *Tracker) History() []ExtendedProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ExtendedProgress{}, t.history...)
}

// TrackingReader wraps an io.Reader, reporting every successful Read's byte
// count to a Tracker — the direct generalization of the teacher's
// progressReader.
type TrackingReader struct {
	r       io.Reader
	tracker *Tracker
	segment int
	useSeg  bool
}

func NewTrackingReader(r io.Reader, tracker *Tracker) *TrackingReader {
	return &TrackingReader{r: r, tracker: tracker}
}

func NewSegmentTrackingReader(r io.Reader, tracker *Tracker, segment int) *TrackingReader {
	return &TrackingReader{r: r, tracker: tracker, segment: segment, useSeg: true}
}

func (tr *TrackingReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		if tr.useSeg {
			tr.tracker.AddSegmentBytes(tr.segment, int64(n))
		} else {
			tr.tracker.AddBytes(int64(n))
		}
	}
	return n, err
}
