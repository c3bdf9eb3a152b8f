// Package ioutil provides a small reusable chunk-buffer pool for the fetch
// engine's streaming copy loops. It is a deliberately narrowed descendant of
// the teacher's memsys slab allocator (memsys.SGL/Slab): pulith's fetch path
// only ever needs one buffer size at a time (FetchOptions.ChunkSize), so a
// single sync.Pool keyed by that size is sufficient — the full multi-slab,
// multi-size SGL machinery would be unexercised complexity here.
package ioutil

import "sync"

// ChunkPool hands out byte slices of a fixed size, reused across fetches to
// avoid a fresh allocation per chunk on the hot streaming-copy path.
type ChunkPool struct {
	size int
	pool sync.Pool
}

func NewChunkPool(size int) *ChunkPool {
	if size <= 0 {
		size = 64 * 1024
	}
	cp := &ChunkPool{size: size}
	cp.pool.New = func() interface{} {
		b := make([]byte, cp.size)
		return &b
	}
	return cp
}

func (cp *ChunkPool) Get() []byte {
	bp := cp.pool.Get().(*[]byte)
	return (*bp)[:cp.size]
}

func (cp *ChunkPool) Put(b []byte) {
	if cap(b) < cp.size {
		return // foreign/undersized slice, let GC reclaim it
	}
	b = b[:cp.size]
	cp.pool.Put(&b)
}
