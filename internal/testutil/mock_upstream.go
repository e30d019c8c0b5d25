// Package testutil provides testing utilities for the VIGIA proxy.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock of the open-data upstreams.
// Handlers are keyed by URL path; query strings are ignored for routing but
// recorded for assertions.
type MockUpstream struct {
	server *httptest.Server

	mu           sync.Mutex
	responses    map[string]MockResponse
	failures     map[string][]MockResponse
	requestCount map[string]int
	lastQuery    map[string]string
	lastHeader   http.Header
	total        int
}

// NewMockUpstream creates and starts a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		responses:    make(map[string]MockResponse),
		failures:     make(map[string][]MockResponse),
		requestCount: make(map[string]int),
		lastQuery:    make(map[string]string),
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears tracking counters and queued failures. Configured responses
// are kept.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string][]MockResponse)
	m.requestCount = make(map[string]int)
	m.lastQuery = make(map[string]string)
	m.lastHeader = nil
	m.total = 0
}

// SetResponse configures the steady-state response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}

// SetJSON configures a 200 response with a JSON body for a path.
func (m *MockUpstream) SetJSON(path, body string) {
	m.SetResponse(path, NewJSONResponse(body))
}

// FailNext queues n responses with the given status for path. They are
// served before the steady-state response.
func (m *MockUpstream) FailNext(path string, n int, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures[path] = append(m.failures[path], NewErrorResponse(status))
	}
}

// RequestCount returns the number of requests received for path.
func (m *MockUpstream) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount[path]
}

// TotalRequests returns the number of requests received for all paths.
func (m *MockUpstream) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// LastQuery returns the raw query string of the last request for path.
func (m *MockUpstream) LastQuery(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.total++
	m.requestCount[r.URL.Path]++
	m.lastQuery[r.URL.Path] = r.URL.RawQuery
	m.lastHeader = r.Header.Clone()

	resp, ok := m.responses[r.URL.Path]
	if queued := m.failures[r.URL.Path]; len(queued) > 0 {
		resp, ok = queued[0], true
		m.failures[r.URL.Path] = queued[1:]
	}
	m.mu.Unlock()

	if !ok {
		resp = NewErrorResponse(http.StatusNotFound)
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewJSONResponse creates a 200 OK response carrying body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewErrorResponse creates a JSON error response with the given status.
func NewErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"success": false, "error": "` + http.StatusText(status) + `"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// SleepRecorder is a client.SleepFunc replacement that records requested
// waits and returns immediately.
type SleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and returns ctx.Err() if the context is already done.
func (s *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns the recorded waits in order.
func (s *SleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}
