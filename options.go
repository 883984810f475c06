package rxcouch

import (
	"net/http"
	"time"

	"github.com/tangledfruit/rx-couch/internal/codec"
	"github.com/tangledfruit/rx-couch/pkg/connection"
	"github.com/tangledfruit/rx-couch/pkg/logger"
	"github.com/tangledfruit/rx-couch/pkg/metrics"
)

// Options are query parameters or request bodies, depending on the call.
type Options map[string]any

func (o Options) clone() Options {
	c := make(Options, len(o)+2)
	for k, v := range o {
		c[k] = v
	}
	return c
}

// CreateDatabaseOptions tunes CreateDatabase.
type CreateDatabaseOptions struct {
	// FailIfExists surfaces the 412 CouchDB returns for an existing database.
	FailIfExists bool
}

type config struct {
	httpClient      *http.Client
	transport       connection.Transport
	logger          logger.Logger
	metrics         *metrics.Metrics
	codec           codec.Codec
	longPollTimeout time.Duration
}

type Option func(*config)

// WithHTTPClient sets the client used by the default transport. Do not give
// it a Timeout shorter than the long-poll timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		cfg.httpClient = c
	}
}

// WithTransport replaces the HTTP transport entirely. WithHTTPClient and
// WithCodec are then ignored.
func WithTransport(t connection.Transport) Option {
	return func(cfg *config) {
		cfg.transport = t
	}
}

func WithLogger(l logger.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}

func WithCodec(c codec.Codec) Option {
	return func(cfg *config) {
		cfg.codec = c
	}
}

// WithLongPollTimeout sets the `timeout` query parameter sent on long-poll
// requests issued by Observe. Zero leaves it to the server. Changes callers
// pass their own `timeout` option.
func WithLongPollTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.longPollTimeout = d
	}
}
