package rxcouch

import (
	"context"
	"errors"
	"net/http"

	"github.com/tangledfruit/rx-couch/pkg/models"
)

// Observe follows one document. The stream starts with its current value,
// or models.Placeholder(id) if it does not exist, then yields every new
// revision until closed. Consecutive values never share a _rev.
//
// Changes are followed with a long-poll feed filtered to id. Servers that
// refuse the _doc_ids filter (400, or 404 for anything but a missing
// database) are remembered for the life of the Database, and from then on
// every observer on it shares one unfiltered feed instead. Other errors,
// including a missing database, end the stream.
func (d *Database) Observe(ctx context.Context, id string) (*Stream[models.Document], error) {
	if id == "" {
		return nil, argError("observe", "missing document ID")
	}
	return newStream(ctx, func(ctx context.Context, emit emitFunc[models.Document]) error {
		d.server.metrics.ObserverOpened()
		defer d.server.metrics.ObserverClosed()
		return d.observe(ctx, id, emit)
	}), nil
}

func (d *Database) observe(ctx context.Context, id string, emit emitFunc[models.Document]) error {
	initial, err := d.Get(ctx, id, nil)
	switch {
	case IsNotFound(err):
		initial = models.Placeholder(id)
	case err != nil:
		return err
	}

	dd := &dedup{id: id, emit: emit}
	if !dd.push(initial) {
		return nil
	}

	if !d.noDocIDsFilter.Load() {
		err := d.pollChanges(ctx, d.dedicatedFeedOptions(id), true, func(c models.Change) bool {
			return dd.push(c.Document())
		})
		if !filterUnsupported(err) {
			return err
		}
		if d.noDocIDsFilter.CompareAndSwap(false, true) {
			d.server.metrics.CapabilityFallback(d.name)
			d.server.logger.Warn("_doc_ids filter refused, observers will share one feed", "db", d.name, "error", err.Error())
		}
	}
	return d.followShared(ctx, dd)
}

func (d *Database) dedicatedFeedOptions(id string) Options {
	opts := Options{
		"feed":         feedLongPoll,
		"filter":       "_doc_ids",
		"doc_ids":      []string{id},
		"include_docs": true,
	}
	d.applyLongPollTimeout(opts)
	return opts
}

func (d *Database) applyLongPollTimeout(opts Options) {
	if t := d.server.longPollTimeout; t > 0 {
		opts["timeout"] = t.Milliseconds()
	}
}

// filterUnsupported reports the answers CouchDB-compatible servers give
// when they do not know the _doc_ids filter. A 404 for the database itself
// is not one of them.
func filterUnsupported(err error) bool {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	switch remote.StatusCode {
	case http.StatusBadRequest:
		return true
	case http.StatusNotFound:
		return !missingDatabase(remote)
	default:
		return false
	}
}

// missingDatabase matches the reasons CouchDB 2+ and 1.x give for a
// database that does not exist.
func missingDatabase(remote *RemoteError) bool {
	return remote.Reason == "Database does not exist." || remote.Reason == "no_db_file"
}

// dedup forwards documents with the observed ID, skipping any whose _rev
// matches the previously forwarded one.
type dedup struct {
	id      string
	emit    emitFunc[models.Document]
	sent    bool
	lastRev string
}

func (dd *dedup) push(doc models.Document) bool {
	if doc.ID() != dd.id {
		return true
	}
	rev := doc.Rev()
	if dd.sent && rev == dd.lastRev {
		return true
	}
	dd.sent = true
	dd.lastRev = rev
	return dd.emit(doc)
}
