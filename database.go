package rxcouch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tangledfruit/rx-couch/internal/couchurl"
	"github.com/tangledfruit/rx-couch/pkg/connection"
	"github.com/tangledfruit/rx-couch/pkg/models"
)

// Database is a handle on one database. Obtain it from Server.DB. It is
// safe for concurrent use.
type Database struct {
	server *Server
	name   string
	url    string

	// noDocIDsFilter is set once the server has refused the _doc_ids
	// changes filter. It is never cleared.
	noDocIDsFilter atomic.Bool

	mu     sync.Mutex
	shared *sharedFeed
}

func (d *Database) Name() string {
	return d.name
}

// URL returns the absolute database URL, without a trailing slash.
func (d *Database) URL() string {
	return d.url
}

func (d *Database) Server() *Server {
	return d.server
}

// Get fetches a document. opts become query parameters as they are, e.g.
// Options{"rev": "2-abc"}.
func (d *Database) Get(ctx context.Context, id string, opts Options) (models.Document, error) {
	if id == "" {
		return nil, argError("get", "missing document ID")
	}
	u, err := couchurl.WithQuery(couchurl.DocumentURL(d.url, id), opts, couchurl.Verbatim)
	if err != nil {
		return nil, argError("get", err.Error())
	}
	var doc models.Document
	if err := d.server.transport.Do(ctx, &connection.Request{Method: http.MethodGet, URL: u}, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Put writes value, which must encode to a JSON object. With an _id the
// document is written at that ID, otherwise the server assigns one. A _rev
// is sent as If-Match. The caller's value is never modified.
//
// A stale or missing _rev for an existing document fails with a
// RemoteError (409, or 400 on some servers). Put does not retry.
func (d *Database) Put(ctx context.Context, value any) (*models.WriteResult, error) {
	doc, err := d.server.normalize("put", value, false)
	if err != nil {
		return nil, err
	}

	id, ok := stringField(doc, models.FieldID)
	if !ok {
		return nil, argError("put", "invalid document ID")
	}
	rev, ok := stringField(doc, models.FieldRev)
	if !ok {
		return nil, argError("put", "invalid revision")
	}
	delete(doc, models.FieldID)
	delete(doc, models.FieldRev)

	req := &connection.Request{Method: http.MethodPost, URL: d.url, Body: doc}
	if id != "" {
		req.Method = http.MethodPut
		req.URL = couchurl.DocumentURL(d.url, id)
	}
	if rev != "" {
		req.Header = http.Header{"If-Match": []string{rev}}
	}

	var out models.WriteResult
	if err := d.server.transport.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	d.server.logger.Debug("document written", "db", d.name, "id", out.ID, "rev", out.Rev)
	return &out, nil
}

// Delete writes a tombstone for id. rev must be the current revision.
func (d *Database) Delete(ctx context.Context, id, rev string) (*models.WriteResult, error) {
	if id == "" {
		return nil, argError("delete", "missing document ID")
	}
	if rev == "" {
		return nil, argError("delete", "missing revision")
	}
	var out models.WriteResult
	err := d.server.transport.Do(ctx, &connection.Request{
		Method: http.MethodDelete,
		URL:    couchurl.DocumentURL(d.url, id),
		Header: http.Header{"If-Match": []string{rev}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AllDocs lists documents. String options such as startkey are JSON-quoted
// unless they already start and end with a double quote.
// The response is returned as decoded, unknown fields included.
func (d *Database) AllDocs(ctx context.Context, opts Options) (models.AllDocsResponse, error) {
	u, err := couchurl.WithQuery(couchurl.Join(d.url, "_all_docs"), opts, couchurl.JSONScalars)
	if err != nil {
		return nil, argError("allDocs", err.Error())
	}
	var out models.AllDocsResponse
	if err := d.server.transport.Do(ctx, &connection.Request{Method: http.MethodGet, URL: u}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplicateFrom replicates into this database. opts must name a source and
// must not name a target.
func (d *Database) ReplicateFrom(ctx context.Context, opts Options) (models.ReplicationResult, error) {
	if opts == nil {
		return nil, argError("replicateFrom", "missing replication options")
	}
	if _, ok := opts["target"]; ok {
		return nil, argError("replicateFrom", "target is not allowed")
	}
	body := opts.clone()
	body["target"] = d.url
	return d.server.Replicate(ctx, body)
}

// stringField returns doc[key] as a string. ok is false only when the key
// holds something other than a string or null.
func stringField(doc models.Document, key string) (value string, ok bool) {
	raw, present := doc[key]
	if !present || raw == nil {
		return "", true
	}
	value, ok = raw.(string)
	return value, ok
}
