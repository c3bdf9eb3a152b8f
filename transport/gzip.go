package transport

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/pulith/pulith/pkg/errs"
)

// maybeDecompress wraps body in a gzip reader when the response declares
// Content-Encoding: gzip. net/http decompresses transparently only when it
// added Accept-Encoding itself and the request has no Range header; when
// Stream sets a Range header that transparent path is off, so the body is
// decoded here with klauspost/compress's gzip.
func maybeDecompress(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if contentEncoding != "gzip" {
		return body, nil
	}
	zr, err := gzip.NewReader(body)
	if err != nil {
		body.Close()
		return nil, errs.Wrap(errs.IO, err, "open gzip response body")
	}
	return &gzipReadCloser{Reader: zr, underlying: body}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	g.Reader.Close()
	return g.underlying.Close()
}
