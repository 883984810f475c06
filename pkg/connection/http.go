package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tangledfruit/rx-couch/internal/codec"
	"github.com/tangledfruit/rx-couch/internal/rand"
	"github.com/tangledfruit/rx-couch/pkg/constants"
	"github.com/tangledfruit/rx-couch/pkg/logger"
)

type HTTP struct {
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger
	recorder    Recorder

	httpClient *http.Client
}

var _ Transport = (*HTTP)(nil)

func NewHTTP(p *Config) *HTTP {
	h := &HTTP{
		marshaler:   p.Marshaler,
		unmarshaler: p.Unmarshaler,
		logger:      p.Logger,
		recorder:    p.Recorder,
		httpClient:  p.HTTPClient,
	}
	if h.httpClient == nil {
		// No Timeout: longpoll requests legitimately stay open for minutes.
		h.httpClient = &http.Client{}
	}
	if h.logger == nil {
		h.logger = logger.Nop()
	}
	return h
}

func (h *HTTP) SetHTTPClient(client *http.Client) *HTTP {
	h.httpClient = client
	return h
}

func (h *HTTP) Do(ctx context.Context, r *Request, out any) error {
	if h.marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if h.unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}

	var body io.Reader = http.NoBody
	if r.Body != nil {
		data, err := h.marshaler.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", r.Method, r.URL, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return transportError(r.Method, r.URL, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := rand.NewRequestID(constants.RequestIDLength)
	req.Header.Set(constants.RequestIDHeader, reqID)

	h.logger.Debug("couchdb request", "id", reqID, "method", r.Method, "url", r.URL)

	respData, err := h.MakeRequest(req)
	if err != nil {
		h.logger.Debug("couchdb request failed", "id", reqID, "method", r.Method, "url", r.URL, "error", err.Error())
		return err
	}
	if out == nil || len(respData) == 0 {
		return nil
	}
	if err := h.unmarshaler.Unmarshal(respData, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", r.Method, r.URL, err)
	}
	return nil
}

// MakeRequest sends req and returns the body of a 2xx response.
func (h *HTTP) MakeRequest(req *http.Request) ([]byte, error) {
	method, url := req.Method, req.URL.String()

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.record(method, 0)
		return nil, transportError(method, url, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	h.record(method, resp.StatusCode)
	if err != nil {
		return nil, transportError(method, url, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBytes, nil
	}
	return nil, newRemoteError(method, url, resp, respBytes)
}

func (h *HTTP) record(method string, code int) {
	if h.recorder != nil {
		h.recorder.ObserveRequest(method, code)
	}
}
