package sandbox

import (
	"net/http"
	"sync"

	"github.com/joeydtaylor/composr/pkg/codec"
	"github.com/joeydtaylor/composr/pkg/fault"
)

// Response is a committed handler response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Write copies r onto w.
func (r *Response) Write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// sink collects what the handler sets on res. The first commit wins; once
// sealed (watchdog fired or invocation failed) commits are refused.
type sink struct {
	mu        sync.Mutex
	status    int
	header    http.Header
	resp      *Response
	sealed    bool
	committed chan struct{}
}

func newSink() *sink {
	return &sink{
		status:    http.StatusOK,
		header:    make(http.Header),
		committed: make(chan struct{}),
	}
}

func (s *sink) setStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp == nil && code >= 100 && code <= 999 {
		s.status = code
	}
}

func (s *sink) setHeader(k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp == nil {
		s.header.Set(k, v)
	}
}

// commit freezes the response. Reports false when it was already committed or
// sealed.
func (s *sink) commit(body []byte, contentType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resp != nil || s.sealed {
		return false
	}
	if contentType != "" && s.header.Get("Content-Type") == "" {
		s.header.Set("Content-Type", contentType)
	}
	s.resp = &Response{Status: s.status, Header: s.header.Clone(), Body: body}
	close(s.committed)
	return true
}

// commitFault commits f as the response body with its status.
func (s *sink) commitFault(f *fault.Fault) bool {
	b, err := codec.JSON.Marshal(f)
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.status = f.HTTPStatus
	s.mu.Unlock()
	return s.commit(b, codec.JSON.ContentType())
}

// seal refuses further commits and returns the response, if any.
func (s *sink) seal() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return s.resp
}

func (s *sink) response() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp
}
