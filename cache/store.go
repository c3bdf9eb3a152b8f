// Package cache implements the persistent metadata store backing
// conditional fetches (ETag/Last-Modified) and resumable-download
// checkpoints. Entries live in a buntdb-backed key-value file with an
// in-memory min-heap tracking access recency, so the store can evict its
// oldest entries once a configured count ceiling is exceeded — resolving
// the spec's unpinned "is this a full HTTP cache or something simpler"
// question in favor of a small persistent LRU, not RFC 7234 semantics.
// Grounded on the teacher's dbdriver/bunt.go collection/key conventions and
// lru/lru.go's min-heap recency tracking.
package cache

import (
	"container/heap"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/pulith/pulith/pkg/errs"
)

const (
	metadataCollection   = "conditional##"
	checkpointCollection = "checkpoint##"
	autoShrinkSize       = 1 << 20 // 1 MiB, matches the teacher's dbdriver default
)

// ConditionalMetadata records what a prior fetch observed about a URL, for
// conditional GET on the next attempt.
type ConditionalMetadata struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Size         int64     `json:"size"`
	Digest       []byte    `json:"digest,omitempty"`
	DigestAlgo   string    `json:"digest_algo,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// DownloadCheckpoint is the persisted record a ResumableFetcher restarts
// from; mirrors the spec's DownloadCheckpoint entity.
type DownloadCheckpoint struct {
	URL             string         `json:"url"`
	TotalSize       int64          `json:"total_size"`
	BytesCompleted  int64          `json:"bytes_completed"`
	SegmentProgress map[int]int64  `json:"segment_progress,omitempty"`
	PartialPath     string         `json:"partial_path"`
	HasherState     []byte         `json:"hasher_state,omitempty"`
	HasherAlgo      string         `json:"hasher_algo,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Store is the persistent, LRU-evicting metadata/checkpoint store. Safe for
// concurrent use.
type Store struct {
	db *buntdb.DB

	mu       sync.Mutex
	recency  minHeap
	index    map[string]*entry
	maxItems int
}

type entry struct {
	key       string
	touchedAt time.Time
	heapIndex int
}

type Options struct {
	Path string
	// MaxItems bounds the number of live keys; 0 means unbounded (no
	// eviction). Eviction removes the least-recently-touched entry.
	MaxItems int
}

func Open(opts Options) (*Store, error) {
	db, err := buntdb.Open(opts.Path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open cache database")
	}
	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    autoShrinkSize,
		AutoShrinkPercentage: 50,
	}); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.IO, err, "configure cache database")
	}
	s := &Store{db: db, index: make(map[string]*entry), maxItems: opts.MaxItems}
	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			e := &entry{key: key, touchedAt: time.Now()}
			s.index[key] = e
			heap.Push(&s.recency, e)
			return true
		})
	})
}

func (s *Store) Close() error { return s.db.Close() }

func makeKey(collection, id string) string { return collection + id }

func (s *Store) touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[key]
	if !ok {
		e = &entry{key: key}
		s.index[key] = e
		heap.Push(&s.recency, e)
	}
	e.touchedAt = time.Now()
	heap.Fix(&s.recency, e.heapIndex)
	s.evictLocked()
}

// evictLocked must be called with mu held; removes the oldest entries until
// the store is back at or under maxItems.
func (s *Store) evictLocked() {
	if s.maxItems <= 0 {
		return
	}
	for len(s.recency) > s.maxItems {
		oldest := heap.Pop(&s.recency).(*entry)
		delete(s.index, oldest.key)
		s.db.Update(func(tx *buntdb.Tx) error { //nolint:errcheck
			_, err := tx.Delete(oldest.key)
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		})
	}
}

func (s *Store) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[key]
	if !ok {
		return
	}
	heap.Remove(&s.recency, e.heapIndex)
	delete(s.index, key)
}

// PutMetadata records metadata for url, evicting the least-recently-touched
// entry if the store is at capacity.
func (s *Store) PutMetadata(url string, md ConditionalMetadata) error {
	md.StoredAt = time.Now()
	b, err := jsoniter.Marshal(md)
	if err != nil {
		return errs.Wrap(errs.IO, err, "marshal conditional metadata")
	}
	key := makeKey(metadataCollection, url)
	if err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), nil)
		return err
	}); err != nil {
		return errs.Wrap(errs.IO, err, "store conditional metadata")
	}
	s.touch(key)
	return nil
}

// GetMetadata returns the stored metadata and true, or false if absent.
func (s *Store) GetMetadata(url string) (ConditionalMetadata, bool, error) {
	key := makeKey(metadataCollection, url)
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		raw, err = tx.Get(key)
		return err
	})
	if err == buntdb.ErrNotFound {
		return ConditionalMetadata{}, false, nil
	}
	if err != nil {
		return ConditionalMetadata{}, false, errs.Wrap(errs.IO, err, "read conditional metadata")
	}
	var md ConditionalMetadata
	if err := jsoniter.Unmarshal([]byte(raw), &md); err != nil {
		return ConditionalMetadata{}, false, errs.Wrap(errs.IO, err, "unmarshal conditional metadata")
	}
	s.touch(key)
	return md, true, nil
}

func (s *Store) DeleteMetadata(url string) error {
	key := makeKey(metadataCollection, url)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if err != nil && err != buntdb.ErrNotFound {
		return errs.Wrap(errs.IO, err, "delete conditional metadata")
	}
	s.remove(key)
	return nil
}

// PutCheckpoint persists a resumable-download checkpoint for url.
func (s *Store) PutCheckpoint(url string, cp DownloadCheckpoint) error {
	cp.UpdatedAt = time.Now()
	b, err := jsoniter.Marshal(cp)
	if err != nil {
		return errs.Wrap(errs.IO, err, "marshal checkpoint")
	}
	key := makeKey(checkpointCollection, url)
	if err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), nil)
		return err
	}); err != nil {
		return errs.Wrap(errs.IO, err, "store checkpoint")
	}
	s.touch(key)
	return nil
}

func (s *Store) GetCheckpoint(url string) (DownloadCheckpoint, bool, error) {
	key := makeKey(checkpointCollection, url)
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		raw, err = tx.Get(key)
		return err
	})
	if err == buntdb.ErrNotFound {
		return DownloadCheckpoint{}, false, nil
	}
	if err != nil {
		return DownloadCheckpoint{}, false, errs.Wrap(errs.IO, err, "read checkpoint")
	}
	var cp DownloadCheckpoint
	if err := jsoniter.Unmarshal([]byte(raw), &cp); err != nil {
		return DownloadCheckpoint{}, false, errs.Wrap(errs.IO, err, "unmarshal checkpoint")
	}
	s.touch(key)
	return cp, true, nil
}

// DeleteCheckpoint removes a checkpoint, matching the spec's "checkpoint
// file is gone after success" invariant.
func (s *Store) DeleteCheckpoint(url string) error {
	key := makeKey(checkpointCollection, url)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if err != nil && err != buntdb.ErrNotFound {
		return errs.Wrap(errs.IO, err, "delete checkpoint")
	}
	s.remove(key)
	return nil
}

//////////////
// min-heap //
//////////////

type minHeap []*entry

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].touchedAt.Before(h[j].touchedAt) }
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex, h[j].heapIndex = i, j
}
func (h *minHeap) Push(x interface{}) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
