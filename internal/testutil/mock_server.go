// Package testutil provides a scriptable stand-in for the paginated,
// admission-controlled server.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/leaky-pager/pkg/query"
	"github.com/Sternrassler/leaky-pager/pkg/ratelimit"
)

// DefaultSnapshot is reported by responses that do not set their own.
var DefaultSnapshot = ratelimit.Snapshot{Points: 0, Capacity: 500, LeakPerSecond: 4}

// MockResponse defines one scripted reply.
type MockResponse struct {
	StatusCode int
	Body       string

	// Snapshot is written as x-bucket-* headers unless NoBucketHeaders is set.
	Snapshot        *ratelimit.Snapshot
	NoBucketHeaders bool

	// Headers override or add raw headers, e.g. to send malformed bucket values.
	Headers map[string]string

	Delay time.Duration
}

// MockServer replies to GET / with scripted responses, in order.
// Once the script is exhausted it answers 500.
type MockServer struct {
	server *httptest.Server

	mu       sync.Mutex
	script   []MockResponse
	requests []query.Query
	raw      []string
}

// NewMockServer starts a mock server with the given script.
func NewMockServer(script ...MockResponse) *MockServer {
	m := &MockServer{script: script}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, err := query.Parse(r.URL.Query())

		m.mu.Lock()
		m.raw = append(m.raw, r.URL.RawQuery)
		if err == nil {
			m.requests = append(m.requests, q)
		}
		var (
			resp MockResponse
			ok   bool
		)
		if len(m.script) > 0 {
			resp, m.script, ok = m.script[0], m.script[1:], true
		}
		m.mu.Unlock()

		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !ok {
			http.Error(w, "mock script exhausted", http.StatusInternalServerError)
			return
		}
		writeResponse(w, r, resp)
	}))

	return m
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if !resp.NoBucketHeaders {
		snap := DefaultSnapshot
		if resp.Snapshot != nil {
			snap = *resp.Snapshot
		}
		snap.WriteHeaders(w.Header())
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp.Body))
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// Enqueue appends responses to the script.
func (m *MockServer) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// Requests returns the parsed query of every request received, in order.
func (m *MockServer) Requests() []query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]query.Query, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockServer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raw)
}

// Pages returns the page index of every request received, in order.
func (m *MockServer) Pages() []int {
	reqs := m.Requests()
	pages := make([]int, len(reqs))
	for i, q := range reqs {
		pages[i] = q.Page
	}
	return pages
}

// Record is the record shape served by Page.
type Record struct {
	ID int `json:"id"`
}

// Page returns a 200 response carrying n records with consecutive IDs from first.
func Page(first, n int, snap ratelimit.Snapshot) MockResponse {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{ID: first + i}
	}
	body, _ := json.Marshal(records)
	return MockResponse{StatusCode: http.StatusOK, Body: string(body), Snapshot: &snap}
}

// Rejection returns a 429 response reporting snap.
func Rejection(cost uint16, snap ratelimit.Snapshot) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body: fmt.Sprintf("Not enough capacity. Requested %d points, available %d/%d points (leak: %d/s)",
			cost, snap.Available(), snap.Capacity, snap.LeakPerSecond),
		Snapshot: &snap,
	}
}

// ObjectPage returns a 200 response carrying the records as a keyed JSON object.
func ObjectPage(first, n int, snap ratelimit.Snapshot) MockResponse {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`"k%d":{"id":%d}`, i, first+i)
	}
	return MockResponse{StatusCode: http.StatusOK, Body: "{" + strings.Join(parts, ",") + "}", Snapshot: &snap}
}
