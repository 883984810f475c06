// Package fakecouch provides a fake CouchDB HTTP server for testing purposes.
// It keeps databases in memory and speaks enough of the CouchDB API for
// rxcouch: database management, document CRUD with revision checks,
// _all_docs, normal and longpoll _changes, and local _replicate.
//
// To flexibly inject failures, you can configure stub responses that match
// specific requests, along with failure configurations that specify how the
// server fails (delays, error statuses, invalid bodies, dropped connections).
// The _doc_ids changes filter can be switched off to emulate servers that do
// not support it.
package fakecouch

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tangledfruit/rx-couch/internal/codec"
)

// cryptoRandInt64 generates a cryptographically secure random int64 in [0, max)
func cryptoRandInt64(rMax int64) int64 {
	if rMax <= 0 {
		return 0
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(rMax))
	return n.Int64()
}

// cryptoRandFloat64 generates a cryptographically secure random float64 in [0.0, 1.0)
func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureNone indicates no failure injection
	FailureNone FailureType = "none"
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureStatus answers with FailureConfig.Status and a CouchDB error body
	FailureStatus FailureType = "status"
	// FailureInvalidResponse sends a 200 with a body that is not JSON
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureDropConnection closes the underlying connection without answering
	FailureDropConnection FailureType = "drop_connection"
)

// RequestMatcher defines criteria for matching incoming HTTP requests.
type RequestMatcher struct {
	// Method is the HTTP method to match. Empty matches any method.
	Method string
	// Path is the unescaped request path to match, e.g. "/albums/_changes".
	// Empty matches any path.
	Path string
	// Matcher is an optional function for anything else, e.g. query values.
	Matcher func(r *http.Request) bool
}

func (m RequestMatcher) match(r *http.Request) bool {
	if m.Method != "" && m.Method != r.Method {
		return false
	}
	if m.Path != "" && m.Path != r.URL.Path {
		return false
	}
	return m.Matcher == nil || m.Matcher(r)
}

// StubResponse defines a pre-configured response for matching requests.
type StubResponse struct {
	// Matcher determines which requests this stub should handle
	Matcher RequestMatcher
	// Status is the HTTP status to answer with; zero means 200.
	Status int
	// Body is encoded as JSON.
	Body any
	// Failures defines failure injection configurations for this response
	Failures []FailureConfig
}

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	// Type specifies the type of failure to inject
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	// MinDelay is the minimum delay for delay-based failures
	MinDelay time.Duration
	// MaxDelay is the maximum delay for delay-based failures
	MaxDelay time.Duration
	// Status is the HTTP status for FailureStatus
	Status int
}

// Server is a fake CouchDB server with support for stub responses and
// failure injection.
type Server struct {
	mu             sync.Mutex
	dbs            map[string]*database
	stubResponses  []StubResponse
	globalFailures []FailureConfig
	requests       map[string]int

	// docIDsFilterStatus is 0 while the _doc_ids filter is supported and
	// otherwise the status returned for it.
	docIDsFilterStatus int

	// LongPollTimeout caps how long a longpoll _changes request is held
	// when the client sends no timeout. Zero means 60 seconds.
	LongPollTimeout time.Duration

	codec      codec.Codec
	httpServer *httptest.Server
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a fake server. Call Start before use.
func NewServer() *Server {
	s := &Server{
		dbs:      make(map[string]*database),
		requests: make(map[string]int),
		codec:    codec.JSON{},
		stopCh:   make(chan struct{}),
	}
	s.httpServer = httptest.NewUnstartedServer(s)
	return s
}

// Start starts listening on a random local port.
func (s *Server) Start() {
	s.httpServer.Start()
}

// Stop releases held long-poll requests and shuts the server down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.httpServer.CloseClientConnections()
	s.httpServer.Close()
}

// URL returns the base URL, e.g. "http://127.0.0.1:51234".
func (s *Server) URL() string {
	return s.httpServer.URL
}

// AddStubResponse adds a stub response configuration to the server.
// Stub responses are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// SetGlobalFailures sets failure configurations that apply to all requests.
// These are checked before stub-specific failures.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// DisableDocIDsFilter makes _changes?filter=_doc_ids fail with status, as
// servers without the built-in filter do. CouchDB 1.x answers 404 for an
// unknown filter design document, others 400.
func (s *Server) DisableDocIDsFilter(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docIDsFilterStatus = status
}

// RequestCount returns how many requests arrived for the unescaped path,
// e.g. "/albums/_changes". Requests are counted on arrival.
func (s *Server) RequestCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// ChangesRequests returns how many _changes requests arrived for db.
func (s *Server) ChangesRequests(db string) int {
	return s.RequestCount("/" + db + "/_changes")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.URL.Path]++
	globalFailures := s.globalFailures
	var matchedStub *StubResponse
	for i := range s.stubResponses {
		if s.stubResponses[i].Matcher.match(r) {
			stub := s.stubResponses[i]
			matchedStub = &stub
			break
		}
	}
	s.mu.Unlock()

	for _, failure := range globalFailures {
		if shouldTriggerFailure(failure.Probability) {
			if done := s.applyFailure(w, r, failure); done {
				return
			}
		}
	}

	if matchedStub != nil {
		for _, failure := range matchedStub.Failures {
			if shouldTriggerFailure(failure.Probability) {
				if done := s.applyFailure(w, r, failure); done {
					return
				}
			}
		}
		status := matchedStub.Status
		if status == 0 {
			status = http.StatusOK
		}
		s.writeJSON(w, status, matchedStub.Body)
		return
	}

	s.route(w, r)
}

// applyFailure performs failure and reports whether the request has been
// answered (or abandoned) as a result.
func (s *Server) applyFailure(w http.ResponseWriter, r *http.Request, failure FailureConfig) bool {
	switch failure.Type {
	case FailureRequestDelay:
		select {
		case <-time.After(randomDuration(failure.MinDelay, failure.MaxDelay)):
		case <-r.Context().Done():
			return true
		case <-s.stopCh:
			return true
		}
		return false
	case FailureStatus:
		s.writeError(w, failure.Status, "injected_failure", "failure injected by test")
		return true
	case FailureInvalidResponse:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{this is not json"))
		return true
	case FailureDropConnection:
		hj, ok := w.(http.Hijacker)
		if !ok {
			s.writeError(w, http.StatusInternalServerError, "hijack_unsupported", "cannot drop connection")
			return true
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return true
	default:
		return false
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = s.codec.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, name, reason string) {
	s.writeJSON(w, status, map[string]string{"error": name, "reason": reason})
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return cryptoRandFloat64() < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMax <= dMin {
		return dMin
	}
	return dMin + time.Duration(cryptoRandInt64(int64(dMax-dMin)))
}

// SimpleStubResponse answers method+path with 200 and response.
func SimpleStubResponse(method, path string, response any) StubResponse {
	return StubResponse{
		Matcher: RequestMatcher{Method: method, Path: path},
		Body:    response,
	}
}

// ErrorStubResponse answers method+path with status and a CouchDB error body.
func ErrorStubResponse(method, path string, status int, name, reason string) StubResponse {
	return StubResponse{
		Matcher: RequestMatcher{Method: method, Path: path},
		Status:  status,
		Body:    map[string]string{"error": name, "reason": reason},
	}
}

// splitPath splits the escaped request path into unescaped segments, so a
// database named "a/b" sent as "a%2Fb" stays one segment.
func splitPath(escaped string) ([]string, error) {
	trimmed := strings.Trim(escaped, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		parts[i] = u
	}
	return parts, nil
}

// CreateDatabase creates name directly, bypassing HTTP. Existing databases
// are left alone.
func (s *Server) CreateDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dbs[name]; !ok {
		s.dbs[name] = newDatabase(name)
	}
}

// Document returns the stored document as GET would, and whether it exists
// and is not deleted.
func (s *Server) Document(db, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return nil, false
	}
	doc, err := d.get(id)
	if err != nil {
		return nil, false
	}
	return doc.full(), true
}

// Revisions returns every revision written for id, oldest first.
func (s *Server) Revisions(db, id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok || d.docs[id] == nil {
		return nil
	}
	return append([]string(nil), d.docs[id].revs...)
}
