// Package connection is the HTTP transport that carries every CouchDB call.
//
// A Transport turns a Request into exactly one HTTP exchange. Responses with a
// non-2xx status come back as *RemoteError; failures below HTTP (dial, reset,
// cancellation) are wrapped with constants.ErrTransport.
package connection

import (
	"context"
	"net/http"

	"github.com/tangledfruit/rx-couch/internal/codec"
	"github.com/tangledfruit/rx-couch/pkg/logger"
)

// Request describes one HTTP call. URL must be absolute, query included.
// A nil Body sends no payload; anything else is encoded as JSON.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Transport performs a request and decodes a 2xx JSON body into out.
// out may be nil when the caller only cares about success.
type Transport interface {
	Do(ctx context.Context, req *Request, out any) error
}

// Recorder is told about every finished exchange. code is 0 when no
// response was received.
type Recorder interface {
	ObserveRequest(method string, code int)
}

type Config struct {
	HTTPClient  *http.Client
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
	Recorder    Recorder
}

// NewConfig returns a Config with the JSON codec, a client without a
// timeout and a discarding logger.
func NewConfig() *Config {
	c := codec.JSON{}
	return &Config{
		HTTPClient:  &http.Client{},
		Marshaler:   c,
		Unmarshaler: c,
		Logger:      logger.Nop(),
	}
}
