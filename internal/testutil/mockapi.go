// Package testutil provides testing utilities for the downloader: a
// configurable mock upstream API standing in for FRED, BLS, ECB and
// the other source endpoints.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock upstream server. One instance stands
// in for every source host; the per-source request paths keep the
// traffic apart.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount      int
	pathCounts        map[string]int
	lastRequestHeader http.Header
}

// NewMockAPI creates a new mock upstream server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made to one path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// LastRequestHeader returns the header of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// Transport returns a RoundTripper that redirects every request to the
// mock server, regardless of the host the request was built for. Tests
// install it on the fetcher so the hardcoded source hosts resolve here.
func (m *MockAPI) Transport() http.RoundTripper {
	return &rewriteTransport{serverURL: m.server.URL}
}

type rewriteTransport struct {
	serverURL string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.serverURL[len("http://"):]
	return http.DefaultTransport.RoundTrip(req)
}

// defaultHandler answers paths without a configured handler with a
// minimal FRED-shaped payload so unconfigured years still succeed.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"observations": [{"date": "2000-01-01", "value": "1.0"}]}`))
}

// FREDPath is the observations path requests for FRED series hit.
const FREDPath = "/fred/series/observations"

// BLSPath is the timeseries path requests for BLS series hit.
const BLSPath = "/publicAPI/v2/timeseries/data/"

// NewFREDResponse creates a 200 response shaped like a FRED
// observations document with one data point per value.
func NewFREDResponse(values ...string) MockResponse {
	body := `{"observations": [`
	for i, v := range values {
		if i > 0 {
			body += ", "
		}
		body += fmt.Sprintf(`{"date": "2000-01-01", "value": %q}`, v)
	}
	body += `]}`
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewBLSResponse creates a 200 response shaped like a BLS v2
// timeseries document with one data point per value.
func NewBLSResponse(values ...string) MockResponse {
	body := `{"status": "REQUEST_SUCCEEDED", "Results": {"series": [{"data": [`
	for i, v := range values {
		if i > 0 {
			body += ", "
		}
		body += fmt.Sprintf(`{"year": "2000", "value": %q}`, v)
	}
	body += `]}]}}`
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewEmptyFREDResponse creates a 200 response with no observations,
// the shape classified as no_data.
func NewEmptyFREDResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"count": 0, "observations": []}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Too many requests"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewNotFoundResponse creates a 404 response, the permanent failure a
// misspelled series id produces.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "series does not exist"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewFailingYearHandler answers FRED observation requests: years in
// failWith get that canned response, every other year succeeds. The
// year is read from the observation_start query parameter.
func NewFailingYearHandler(failWith map[string]MockResponse) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		year := r.URL.Query().Get("observation_start")
		if len(year) >= 4 {
			year = year[:4]
		}
		if resp, ok := failWith[year]; ok {
			for key, value := range resp.Headers {
				w.Header().Set(key, value)
			}
			w.WriteHeader(resp.StatusCode)
			w.Write([]byte(resp.Body))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"observations": [{"date": "%s-01-01", "value": "4.2"}]}`, year)
	}
}

// NewFlakyHandler fails with the canned response for the first
// failures requests to the path, then serves success.
func NewFlakyHandler(failures int, failResp, okResp MockResponse) func(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	seen := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen++
		resp := okResp
		if seen <= failures {
			resp = failResp
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	}
}
