package rxcouch

import (
	"context"
	"net/http"
	"time"

	"github.com/tangledfruit/rx-couch/internal/codec"
	"github.com/tangledfruit/rx-couch/internal/couchurl"
	"github.com/tangledfruit/rx-couch/pkg/connection"
	"github.com/tangledfruit/rx-couch/pkg/logger"
	"github.com/tangledfruit/rx-couch/pkg/metrics"
	"github.com/tangledfruit/rx-couch/pkg/models"
)

// Server is a handle on a CouchDB-compatible server. It is immutable and
// safe for concurrent use.
type Server struct {
	baseURL         string
	transport       connection.Transport
	codec           codec.Codec
	logger          logger.Logger
	metrics         *metrics.Metrics
	longPollTimeout time.Duration
}

// NewServer validates baseURL and returns a handle on it. The URL must be
// absolute http or https, with no path other than "/" and no query string.
//
//	srv, err := rxcouch.NewServer("http://localhost:5984")
func NewServer(baseURL string, opts ...Option) (*Server, error) {
	normalized, err := couchurl.ParseServerURL(baseURL)
	if err != nil {
		return nil, &ConfigurationError{URL: baseURL, Err: err}
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.codec == nil {
		cfg.codec = codec.JSON{}
	}
	if cfg.logger == nil {
		cfg.logger = logger.Nop()
	}

	s := &Server{
		baseURL:         normalized,
		transport:       cfg.transport,
		codec:           cfg.codec,
		logger:          cfg.logger,
		metrics:         cfg.metrics,
		longPollTimeout: cfg.longPollTimeout,
	}
	if s.transport == nil {
		s.transport = connection.NewHTTP(&connection.Config{
			HTTPClient:  cfg.httpClient,
			Marshaler:   cfg.codec,
			Unmarshaler: cfg.codec,
			Logger:      cfg.logger,
			Recorder:    cfg.metrics,
		})
	}
	return s, nil
}

// URL returns the normalized base URL, always ending in "/".
func (s *Server) URL() string {
	return s.baseURL
}

// Info returns the server's welcome object (version, vendor, ...).
func (s *Server) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := s.transport.Do(ctx, &connection.Request{Method: http.MethodGet, URL: s.baseURL}, &out)
	return out, err
}

// AllDatabases lists database names.
func (s *Server) AllDatabases(ctx context.Context) ([]string, error) {
	var out []string
	err := s.transport.Do(ctx, &connection.Request{
		Method: http.MethodGet,
		URL:    couchurl.Join(s.baseURL, "_all_dbs"),
	}, &out)
	return out, err
}

// CreateDatabase creates name. An existing database is not an error unless
// opts.FailIfExists is set. opts may be nil.
func (s *Server) CreateDatabase(ctx context.Context, name string, opts *CreateDatabaseOptions) error {
	dbURL, err := s.databaseURL(name, "createDatabase")
	if err != nil {
		return err
	}
	err = s.transport.Do(ctx, &connection.Request{Method: http.MethodPut, URL: dbURL}, nil)
	if StatusCode(err) == http.StatusPreconditionFailed && (opts == nil || !opts.FailIfExists) {
		s.logger.Debug("database already exists", "db", name)
		return nil
	}
	return err
}

// DeleteDatabase deletes name. A missing database is not an error.
func (s *Server) DeleteDatabase(ctx context.Context, name string) error {
	dbURL, err := s.databaseURL(name, "deleteDatabase")
	if err != nil {
		return err
	}
	err = s.transport.Do(ctx, &connection.Request{Method: http.MethodDelete, URL: dbURL}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Replicate posts opts to _replicate. opts needs at least source and target.
func (s *Server) Replicate(ctx context.Context, opts Options) (models.ReplicationResult, error) {
	if opts == nil {
		return nil, argError("replicate", "missing replication options")
	}
	var out models.ReplicationResult
	err := s.transport.Do(ctx, &connection.Request{
		Method: http.MethodPost,
		URL:    couchurl.Join(s.baseURL, "_replicate"),
		Body:   opts,
	}, &out)
	return out, err
}

// DB returns a handle on the named database. It does not contact the server.
func (s *Server) DB(name string) (*Database, error) {
	dbURL, err := s.databaseURL(name, "db")
	if err != nil {
		return nil, err
	}
	return &Database{server: s, name: name, url: dbURL}, nil
}

func (s *Server) databaseURL(name, op string) (string, error) {
	if err := couchurl.CheckDatabaseName(name); err != nil {
		return "", argError(op, err.Error())
	}
	return couchurl.DatabaseURL(s.baseURL, name), nil
}

// normalize turns a caller's document into a private map. With deep set, or
// for values that are not maps already, it round-trips through the codec so
// nothing is shared with the caller.
func (s *Server) normalize(op string, value any, deep bool) (models.Document, error) {
	if value == nil {
		return nil, argError(op, "missing document value")
	}
	if !deep {
		switch v := value.(type) {
		case models.Document:
			if v == nil {
				return nil, argError(op, "missing document value")
			}
			return v.Clone(), nil
		case map[string]any:
			if v == nil {
				return nil, argError(op, "missing document value")
			}
			return models.Document(v).Clone(), nil
		}
	}

	data, err := s.codec.Marshal(value)
	if err != nil {
		return nil, argError(op, "invalid document value")
	}
	var doc models.Document
	if err := s.codec.Unmarshal(data, &doc); err != nil {
		return nil, argError(op, "invalid document value")
	}
	if doc == nil {
		return nil, argError(op, "missing document value")
	}
	return doc, nil
}
