package ratelimit

import (
	"context"
	"io"
)

// ChunkSource is any producer of discrete byte chunks — the generalization
// of "chunked byte stream" from the spec. An io.Reader is adapted to one via
// readerChunkSource below.
type ChunkSource interface {
	// Next returns the next chunk, or io.EOF when exhausted. Any other error
	// is propagated unchanged by ThrottledStream.
	Next(ctx context.Context) ([]byte, error)
}

// ThrottledStream wraps a ChunkSource, acquiring n tokens from bucket before
// releasing a chunk of size n to its caller. A slow caller that stops
// calling Next never causes a token acquisition, so the bucket simply stays
// full: backpressure is automatic, not something ThrottledStream has to
// detect.
type ThrottledStream struct {
	src    ChunkSource
	bucket *TokenBucket
}

func NewThrottledStream(src ChunkSource, bucket *TokenBucket) *ThrottledStream {
	return &ThrottledStream{src: src, bucket: bucket}
}

func (t *ThrottledStream) Next(ctx context.Context) ([]byte, error) {
	chunk, err := t.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	if len(chunk) == 0 {
		return chunk, nil
	}
	if aerr := t.bucket.Acquire(ctx, int64(len(chunk))); aerr != nil {
		return nil, aerr
	}
	return chunk, nil
}

// readerChunkSource adapts an io.Reader to ChunkSource by reading into
// fixed-size buffers.
type readerChunkSource struct {
	r         io.Reader
	chunkSize int
}

func NewReaderChunkSource(r io.Reader, chunkSize int) ChunkSource {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &readerChunkSource{r: r, chunkSize: chunkSize}
}

func (rc *readerChunkSource) Next(ctx context.Context) ([]byte, error) {
	buf := make([]byte, rc.chunkSize)
	n, err := rc.r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

// ThrottledReader adapts a ThrottledStream back into an io.Reader, for
// callers (like VerifiedReader) that want the familiar Read contract on top
// of rate limiting.
type ThrottledReader struct {
	ctx    context.Context
	stream *ThrottledStream
	buf    []byte
}

func NewThrottledReader(ctx context.Context, r io.Reader, chunkSize int, bucket *TokenBucket) *ThrottledReader {
	return &ThrottledReader{
		ctx:    ctx,
		stream: NewThrottledStream(NewReaderChunkSource(r, chunkSize), bucket),
	}
}

func (tr *ThrottledReader) Read(p []byte) (int, error) {
	if len(tr.buf) == 0 {
		chunk, err := tr.stream.Next(tr.ctx)
		if err != nil {
			return 0, err
		}
		tr.buf = chunk
	}
	n := copy(p, tr.buf)
	tr.buf = tr.buf[n:]
	return n, nil
}
