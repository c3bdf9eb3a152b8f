package fetch

import (
	"context"
	"io"
)

// ctxReader makes context cancellation observable mid-stream: without it, an
// io.Copy loop over an unthrottled reader only notices a cancelled context
// once the underlying reader itself returns an error, which a test double
// (or a body with all its bytes already buffered) may never do. Every
// strategy wraps its source reader with this so a cancelled race loser, or
// any cancelled fetch, actually stops advancing instead of running to
// completion regardless of ctx.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func withCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
