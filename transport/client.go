// Package transport implements the HTTP client abstraction the fetch engine
// streams through: a small HttpClient interface with a net/http-backed
// default implementation, a Mock for tests, and per-cloud-provider
// implementations dispatched by URL shape. Grounded on the teacher's
// downloader package, which keeps a pair of pre-built *http.Client values
// (plain/HTTPS) and selects between them per URL via clientForURL.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/pulith/pulith/pkg/errs"
)

// Response is the subset of an HTTP response the fetch engine needs,
// independent of which backend produced it (plain HTTP, GCS, S3, Azure).
type Response struct {
	StatusCode    int
	ContentLength int64
	ETag          string
	LastModified  string
	AcceptRanges  bool
	Header        http.Header
}

// HttpClient is implemented by the default transport and by every cloud
// backend; fetch strategies depend only on this interface.
type HttpClient interface {
	// Head issues a metadata-only request: size, ETag, Last-Modified,
	// whether range requests are supported.
	Head(ctx context.Context, url string) (*Response, error)
	// Stream opens a body for GET, optionally with a byte range (rangeStart
	// < 0 means no range) and conditional headers (either may be empty).
	Stream(ctx context.Context, url string, rangeStart, rangeEnd int64, ifNoneMatch, ifModifiedSince string) (io.ReadCloser, *Response, error)
}

// Client is the default HttpClient, backed by net/http with an
// http2-tuned Transport, matching the teacher's certificate-skipping HTTPS
// client for the "arbitrary server" case while keeping verification on by
// default (the teacher always disables it; we don't, since this is not a
// private cluster transport).
type Client struct {
	http         *http.Client
	maxRedirects int
}

type ClientOptions struct {
	ConnectTimeout time.Duration
	MaxRedirects   int
	InsecureSkip   bool
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{ConnectTimeout: 10 * time.Second, MaxRedirects: 10}
}

func NewClient(opts ClientOptions) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}
	// enable HTTP/2 explicitly rather than relying on the implicit upgrade
	// path, matching how the teacher's memsys/transport code tunes its
	// transports deliberately instead of taking net/http's defaults.
	_ = http2.ConfigureTransport(transport)

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	cl := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errs.Newf(errs.TooManyRedirects, "exceeded %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Client{http: cl, maxRedirects: maxRedirects}
}

func toResponse(resp *http.Response) *Response {
	r := &Response{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		AcceptRanges:  resp.Header.Get("Accept-Ranges") == "bytes",
		Header:        resp.Header,
	}
	return r
}

func (c *Client) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidURL, err, "build HEAD request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, statusErr(resp.StatusCode)
	}
	return toResponse(resp), nil
}

func (c *Client) Stream(ctx context.Context, url string, rangeStart, rangeEnd int64, ifNoneMatch, ifModifiedSince string) (io.ReadCloser, *Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, errs.Wrap(errs.InvalidURL, err, "build GET request")
	}
	if rangeStart >= 0 {
		if rangeEnd > rangeStart {
			req.Header.Set("Range", "bytes="+strconv.FormatInt(rangeStart, 10)+"-"+strconv.FormatInt(rangeEnd-1, 10))
		} else {
			req.Header.Set("Range", "bytes="+strconv.FormatInt(rangeStart, 10)+"-")
		}
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	if ifModifiedSince != "" {
		req.Header.Set("If-Modified-Since", ifModifiedSince)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, classifyErr(err)
	}
	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return nil, toResponse(resp), nil
	}
	if rangeStart >= 0 && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		return nil, nil, errs.New(errs.RangeUnsupported, nil)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, nil, statusErr(resp.StatusCode)
	}
	body, derr := maybeDecompress(resp.Body, resp.Header.Get("Content-Encoding"))
	if derr != nil {
		return nil, nil, derr
	}
	return body, toResponse(resp), nil
}

func statusErr(code int) error {
	if code == http.StatusNotFound {
		return errs.New(errs.NotFound, nil)
	}
	if code == http.StatusForbidden || code == http.StatusUnauthorized {
		return errs.New(errs.PermissionDenied, nil)
	}
	if code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return errs.Newf(errs.NetworkTransient, "server returned %d", code)
	}
	return errs.Newf(errs.NetworkPermanent, "server returned %d", code)
}

// IsRedirect reports whether code is one of the 3xx statuses Client's
// net/http redirect policy follows (301, 302, 303, 307, 308).
func IsRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// classifyErr maps a net/http transport error (DNS failure, connection
// reset, timeout) onto the taxonomy's transient/permanent split.
func classifyErr(err error) error {
	if ctxErr := context_DeadlineOrCancel(err); ctxErr != nil {
		return ctxErr
	}
	return errs.Wrap(errs.NetworkTransient, err, "http transport")
}

func context_DeadlineOrCancel(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.TimeoutConnect, err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.New(errs.TimeoutTotal, err)
	}
	return nil
}
