package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/tangledfruit/rx-couch/pkg/constants"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

// NewTestClient returns *http.Client with Transport replaced to avoid making real calls
func NewTestClient(fn RoundTripFunc) *http.Client {
	return &http.Client{
		Transport: fn,
	}
}

type failingTripper struct{ err error }

func (f failingTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}

type contextTripper struct{}

func (contextTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

type countingRecorder struct {
	codes []int
}

func (c *countingRecorder) ObserveRequest(_ string, code int) {
	c.codes = append(c.codes, code)
}

func jsonResponse(code int, status, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

type HTTPTestSuite struct {
	suite.Suite
}

func TestHttpTestSuite(t *testing.T) {
	suite.Run(t, new(HTTPTestSuite))
}

func (s *HTTPTestSuite) newEngine(fn RoundTripFunc) (*HTTP, *countingRecorder) {
	rec := &countingRecorder{}
	cfg := NewConfig()
	cfg.Recorder = rec
	return NewHTTP(cfg).SetHTTPClient(NewTestClient(fn)), rec
}

func (s *HTTPTestSuite) TestDoDecodesSuccess() {
	engine, rec := s.newEngine(func(req *http.Request) *http.Response {
		s.Equal(http.MethodGet, req.Method)
		s.Equal("http://couch.test/albums/a", req.URL.String())
		s.Equal("application/json", req.Header.Get("Accept"))
		s.Len(req.Header.Get(constants.RequestIDHeader), constants.RequestIDLength)
		return jsonResponse(200, "200 OK", `{"_id":"a","_rev":"1-x"}`)
	})

	var doc map[string]any
	err := engine.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://couch.test/albums/a"}, &doc)
	s.Require().NoError(err)
	s.Equal("1-x", doc["_rev"])
	s.Equal([]int{200}, rec.codes)
}

func (s *HTTPTestSuite) TestDoSendsBodyAndHeaders() {
	engine, _ := s.newEngine(func(req *http.Request) *http.Response {
		s.Equal(http.MethodPut, req.Method)
		s.Equal("application/json", req.Header.Get("Content-Type"))
		s.Equal("1-x", req.Header.Get("If-Match"))
		data, err := io.ReadAll(req.Body)
		s.Require().NoError(err)
		s.JSONEq(`{"k":"v"}`, string(data))
		return jsonResponse(201, "201 Created", `{"ok":true,"id":"a","rev":"2-y"}`)
	})

	var out map[string]any
	err := engine.Do(context.Background(), &Request{
		Method: http.MethodPut,
		URL:    "http://couch.test/albums/a",
		Header: http.Header{"If-Match": []string{"1-x"}},
		Body:   map[string]any{"k": "v"},
	}, &out)
	s.Require().NoError(err)
	s.Equal("2-y", out["rev"])
}

func (s *HTTPTestSuite) TestDoRemoteError() {
	engine, rec := s.newEngine(func(req *http.Request) *http.Response {
		return jsonResponse(404, "404 Object Not Found", `{"error":"not_found","reason":"missing"}`)
	})

	err := engine.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://couch.test/albums/nope"}, nil)
	s.Require().Error(err)
	s.ErrorIs(err, constants.ErrRemote)

	var remote *RemoteError
	s.Require().True(errors.As(err, &remote))
	s.Equal(404, remote.StatusCode)
	s.Equal("Object Not Found", remote.Status)
	s.Equal("not_found", remote.ErrorName)
	s.Equal("missing", remote.Reason)
	s.Equal(http.MethodGet, remote.Method)
	s.Equal("http://couch.test/albums/nope", remote.URL)
	s.Contains(err.Error(), "HTTP error 404 (Object Not Found)")
	s.Equal([]int{404}, rec.codes)
}

func (s *HTTPTestSuite) TestDoRemoteErrorWithoutBody() {
	engine, _ := s.newEngine(func(req *http.Request) *http.Response {
		return jsonResponse(500, "", "")
	})

	err := engine.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://couch.test/"}, nil)
	var remote *RemoteError
	s.Require().True(errors.As(err, &remote))
	s.Equal("Internal Server Error", remote.Status)
	s.Empty(remote.ErrorName)
}

func (s *HTTPTestSuite) TestDoTransportError() {
	rec := &countingRecorder{}
	cfg := NewConfig()
	cfg.Recorder = rec
	cfg.HTTPClient = &http.Client{Transport: failingTripper{err: errors.New("connection refused")}}
	engine := NewHTTP(cfg)

	err := engine.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://couch.test/"}, nil)
	s.Require().Error(err)
	s.ErrorIs(err, constants.ErrTransport)
	s.NotErrorIs(err, constants.ErrRemote)
	s.Equal([]int{0}, rec.codes)
}

func (s *HTTPTestSuite) TestDoHonoursCancellation() {
	cfg := NewConfig()
	cfg.HTTPClient = &http.Client{Transport: contextTripper{}}
	engine := NewHTTP(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.Do(ctx, &Request{Method: http.MethodGet, URL: "http://couch.test/"}, nil)
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.ErrorIs(err, constants.ErrTransport)
}

func (s *HTTPTestSuite) TestNewHTTPHasNoClientTimeout() {
	engine := NewHTTP(&Config{Marshaler: NewConfig().Marshaler, Unmarshaler: NewConfig().Unmarshaler})
	s.Zero(engine.httpClient.Timeout)
}

func (s *HTTPTestSuite) TestDoWithoutCodec() {
	engine := NewHTTP(&Config{})
	err := engine.Do(context.Background(), &Request{Method: http.MethodGet, URL: "http://couch.test/"}, nil)
	s.ErrorIs(err, constants.ErrNoMarshaler)
}
