package transport

import (
	"context"
	"io"
	"io/ioutil"
	"sync"

	"github.com/pulith/pulith/pkg/errs"
)

// MockObject is one fixed response a Mock serves.
type MockObject struct {
	Body         []byte
	ETag         string
	LastModified string
	NotFound     bool
}

// Mock is an in-memory HttpClient for tests: URLs map to canned objects,
// and Head/Stream honor conditional headers and byte ranges against the
// canned body the way a real server would, so fetch-strategy tests don't
// need a live listener.
type Mock struct {
	mu      sync.Mutex
	objects map[string]MockObject
	calls   []string
}

func NewMock() *Mock {
	return &Mock{objects: make(map[string]MockObject)}
}

func (m *Mock) Set(url string, obj MockObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = obj
}

func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *Mock) record(url string) {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()
}

func (m *Mock) get(url string) (MockObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[url]
	return obj, ok
}

func (m *Mock) Head(ctx context.Context, url string) (*Response, error) {
	m.record(url)
	obj, ok := m.get(url)
	if !ok || obj.NotFound {
		return nil, errs.New(errs.NotFound, nil)
	}
	return &Response{
		StatusCode:    200,
		ContentLength: int64(len(obj.Body)),
		ETag:          obj.ETag,
		LastModified:  obj.LastModified,
		AcceptRanges:  true,
	}, nil
}

func (m *Mock) Stream(ctx context.Context, url string, rangeStart, rangeEnd int64, ifNoneMatch, ifModifiedSince string) (io.ReadCloser, *Response, error) {
	m.record(url)
	obj, ok := m.get(url)
	if !ok || obj.NotFound {
		return nil, nil, errs.New(errs.NotFound, nil)
	}
	if ifNoneMatch != "" && ifNoneMatch == obj.ETag {
		return nil, &Response{StatusCode: 304, ETag: obj.ETag}, nil
	}
	if ifModifiedSince != "" && ifModifiedSince == obj.LastModified {
		return nil, &Response{StatusCode: 304, LastModified: obj.LastModified}, nil
	}

	body := obj.Body
	if rangeStart >= 0 {
		end := int64(len(body))
		if rangeEnd > rangeStart && rangeEnd < end {
			end = rangeEnd
		}
		if rangeStart > int64(len(body)) {
			rangeStart = int64(len(body))
		}
		body = body[rangeStart:end]
	}
	resp := &Response{
		StatusCode:    200,
		ContentLength: int64(len(body)),
		ETag:          obj.ETag,
		LastModified:  obj.LastModified,
		AcceptRanges:  true,
	}
	return ioutil.NopCloser(newByteReader(body)), resp, nil
}

func newByteReader(b []byte) io.Reader {
	return &staticReader{data: b}
}

type staticReader struct{ data []byte }

func (s *staticReader) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

var _ HttpClient = (*Mock)(nil)
