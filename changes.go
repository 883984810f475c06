package rxcouch

import (
	"context"
	"net/http"

	"github.com/tangledfruit/rx-couch/internal/couchurl"
	"github.com/tangledfruit/rx-couch/pkg/connection"
	"github.com/tangledfruit/rx-couch/pkg/models"
)

const (
	feedLongPoll   = "longpoll"
	feedContinuous = "continuous"
)

// Changes subscribes to the database's change feed.
//
// With Options{"feed": "longpoll"} the stream never ends on its own: after
// each response the request is re-issued with since set to the returned
// last_seq. Otherwise a single request is made and the stream ends after its
// results. The continuous feed is not supported. Array options such as
// doc_ids are sent JSON-encoded. opts is not modified.
//
//	feed, err := db.Changes(ctx, rxcouch.Options{"feed": "longpoll", "since": "now"})
//	defer feed.Close()
//	for change := range feed.C() { ... }
func (d *Database) Changes(ctx context.Context, opts Options) (*Stream[models.Change], error) {
	longpoll, err := d.checkChangesOptions("changes", opts)
	if err != nil {
		return nil, err
	}
	opts = opts.clone()
	return newStream(ctx, func(ctx context.Context, emit emitFunc[models.Change]) error {
		return d.pollChanges(ctx, opts, longpoll, emit)
	}), nil
}

// ChangesOnce makes a single _changes request and returns the response as
// is. A longpoll feed option makes the server hold the request until there
// is something to report.
func (d *Database) ChangesOnce(ctx context.Context, opts Options) (*models.ChangesResponse, error) {
	if _, err := d.checkChangesOptions("changesOnce", opts); err != nil {
		return nil, err
	}
	return d.fetchChanges(ctx, opts)
}

func (d *Database) checkChangesOptions(op string, opts Options) (longpoll bool, err error) {
	feed, _ := opts["feed"].(string)
	if feed == feedContinuous {
		return false, argError(op, "continuous feed is not supported")
	}
	if _, err := couchurl.Query(opts, couchurl.JSONArrays); err != nil {
		return false, argError(op, err.Error())
	}
	return feed == feedLongPoll, nil
}

// pollChanges fetches and emits until a one-shot response is exhausted, an
// error occurs or emit reports cancellation. opts is owned by the caller
// loop and its since key is advanced in place.
func (d *Database) pollChanges(ctx context.Context, opts Options, longpoll bool, emit emitFunc[models.Change]) error {
	for {
		resp, err := d.fetchChanges(ctx, opts)
		if err != nil {
			return err
		}
		for _, change := range resp.Results {
			if !emit(change) {
				return nil
			}
		}
		if !longpoll {
			return nil
		}
		if resp.LastSeq != nil {
			opts["since"] = resp.LastSeq
		}
	}
}

func (d *Database) fetchChanges(ctx context.Context, opts Options) (*models.ChangesResponse, error) {
	u, err := couchurl.WithQuery(couchurl.Join(d.url, "_changes"), opts, couchurl.JSONArrays)
	if err != nil {
		return nil, argError("changes", err.Error())
	}
	var resp models.ChangesResponse
	if err := d.server.transport.Do(ctx, &connection.Request{Method: http.MethodGet, URL: u}, &resp); err != nil {
		return nil, err
	}
	d.server.metrics.ObservePoll(d.name)
	d.server.logger.Debug("changes polled", "db", d.name, "since", opts["since"], "results", len(resp.Results), "last_seq", resp.LastSeq)
	return &resp, nil
}
