package rxcouch_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rxcouch "github.com/tangledfruit/rx-couch"
	"github.com/tangledfruit/rx-couch/internal/fakecouch"
	"github.com/tangledfruit/rx-couch/pkg/connection"
	"github.com/tangledfruit/rx-couch/pkg/constants"
	"github.com/tangledfruit/rx-couch/pkg/metrics"
	"github.com/tangledfruit/rx-couch/pkg/models"
)

func emptyChanges(*connection.Request) (any, error) {
	return map[string]any{"results": []any{}, "last_seq": 0}, nil
}

func TestChangesRejectsContinuousFeed(t *testing.T) {
	tr, srv := newScripted(t, emptyChanges)
	db, err := srv.DB("albums")
	require.NoError(t, err)

	_, err = db.Changes(context.Background(), rxcouch.Options{"feed": "continuous"})
	requireArgError(t, err, "continuous feed is not supported")
	_, err = db.ChangesOnce(context.Background(), rxcouch.Options{"feed": "continuous"})
	requireArgError(t, err, "continuous feed is not supported")

	_, err = db.Changes(context.Background(), rxcouch.Options{"bad": func() {}})
	require.Error(t, err)

	assert.Empty(t, tr.Requests())
}

func TestChangesOneShot(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	_, db := newDatabase(t, "albums", rxcouch.WithMetrics(m))
	for _, id := range []string{"a", "b", "c"} {
		_, err := db.Put(ctx, map[string]any{"_id": id})
		require.NoError(t, err)
	}

	feed, err := db.Changes(ctx, nil)
	require.NoError(t, err)
	changes, err := feed.Collect()
	require.NoError(t, err)

	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
		assert.Nil(t, c.Doc, "documents are only included on request")
		require.Len(t, c.Changes, 1)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	expected := `
# HELP rxcouch_changes_polls_total Completed _changes requests, by database.
# TYPE rxcouch_changes_polls_total counter
rxcouch_changes_polls_total{db="albums"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "rxcouch_changes_polls_total"))
}

func TestChangesLongPoll(t *testing.T) {
	ctx := context.Background()
	fake, db := newDatabase(t, "albums")
	_, err := db.Put(ctx, map[string]any{"_id": "old"})
	require.NoError(t, err)

	opts := rxcouch.Options{"feed": "longpoll", "since": "now", "include_docs": true}
	feed, err := db.Changes(ctx, opts)
	require.NoError(t, err)
	defer feed.Close()

	require.Eventually(t, func() bool { return fake.ChangesRequests("albums") == 1 }, waitTimeout, 5*time.Millisecond)
	expectQuiet(t, feed, 50*time.Millisecond)

	for _, id := range []string{"x", "y", "z"} {
		_, err := db.Put(ctx, map[string]any{"_id": id, "name": strings.ToUpper(id)})
		require.NoError(t, err)
	}
	for _, id := range []string{"x", "y", "z"} {
		change := next(t, feed)
		assert.Equal(t, id, change.ID)
		assert.Equal(t, strings.ToUpper(id), change.Doc["name"])
	}
	assert.Equal(t, "now", opts["since"], "caller options are not modified")

	require.NoError(t, feed.Close())
	assert.NoError(t, feed.Err())
	_, ok := <-feed.C()
	assert.False(t, ok)

	polls := fake.ChangesRequests("albums")
	_, err = db.Put(ctx, map[string]any{"_id": "after"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, polls, fake.ChangesRequests("albums"), "no polling after Close")
}

func TestChangesLongPollAdvancesSince(t *testing.T) {
	var polls int
	tr, srv := newScripted(t, func(req *connection.Request) (any, error) {
		polls++
		if polls > 2 {
			return nil, &rxcouch.RemoteError{StatusCode: http.StatusServiceUnavailable, Method: req.Method, URL: req.URL}
		}
		return map[string]any{
			"results":  []any{map[string]any{"seq": polls, "id": "d", "changes": []any{map[string]any{"rev": "1-a"}}}},
			"last_seq": polls * 10,
		}, nil
	})
	db, err := srv.DB("albums")
	require.NoError(t, err)

	feed, err := db.Changes(context.Background(), rxcouch.Options{"feed": "longpoll", "since": 0})
	require.NoError(t, err)
	changes, err := feed.Collect()
	assert.Len(t, changes, 2)
	assert.Equal(t, http.StatusServiceUnavailable, rxcouch.StatusCode(err))

	reqs := tr.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].URL, "since=0")
	assert.Contains(t, reqs[1].URL, "since=10")
	assert.Contains(t, reqs[2].URL, "since=20")
}

func TestChangesQueryEncoding(t *testing.T) {
	tr, srv := newScripted(t, emptyChanges)
	db, err := srv.DB("albums")
	require.NoError(t, err)

	feed, err := db.Changes(context.Background(), rxcouch.Options{
		"filter":  "_doc_ids",
		"doc_ids": []string{"a", "b"},
		"limit":   3,
	})
	require.NoError(t, err)
	_, err = feed.Collect()
	require.NoError(t, err)

	reqs := tr.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	assert.Equal(t, "http://couch.test:5984/albums/_changes?doc_ids=%5B%22a%22%2C%22b%22%5D&filter=_doc_ids&limit=3", reqs[0].URL)
}

func TestChangesOnce(t *testing.T) {
	ctx := context.Background()
	_, db := newDatabase(t, "albums")
	_, err := db.Put(ctx, map[string]any{"_id": "a"})
	require.NoError(t, err)
	_, err = db.Put(ctx, map[string]any{"_id": "b"})
	require.NoError(t, err)

	resp, err := db.ChangesOnce(ctx, rxcouch.Options{"since": 1, "include_docs": true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].ID)
	assert.Equal(t, "b", resp.Results[0].Doc.ID())
	assert.EqualValues(t, 2, resp.LastSeq)
}

func TestChangesMissingDatabase(t *testing.T) {
	_, srv := newFixture(t)
	db, err := srv.DB("nope")
	require.NoError(t, err)

	feed, err := db.Changes(context.Background(), rxcouch.Options{"feed": "longpoll"})
	require.NoError(t, err, "request errors arrive on the stream")
	err = waitEnd(t, feed)
	assert.True(t, rxcouch.IsNotFound(err))
}

func TestChangesContextCancel(t *testing.T) {
	fake, db := newDatabase(t, "albums")
	ctx, cancel := context.WithCancel(context.Background())

	feed, err := db.Changes(ctx, rxcouch.Options{"feed": "longpoll", "since": "now"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fake.ChangesRequests("albums") == 1 }, waitTimeout, 5*time.Millisecond)

	cancel()
	err = waitEnd(t, feed)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestChangesLongPollEndsOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	fake, db := newDatabase(t, "albums")
	_, err := db.Put(ctx, map[string]any{"_id": "a"})
	require.NoError(t, err)

	// Every poll after the first loses its connection.
	var polls atomic.Int32
	fake.AddStubResponse(fakecouch.StubResponse{
		Matcher: fakecouch.RequestMatcher{
			Method:  http.MethodGet,
			Path:    "/albums/_changes",
			Matcher: func(*http.Request) bool { return polls.Add(1) > 1 },
		},
		Failures: []fakecouch.FailureConfig{{Type: fakecouch.FailureDropConnection, Probability: 1}},
	})

	feed, err := db.Changes(ctx, rxcouch.Options{"feed": "longpoll"})
	require.NoError(t, err)
	defer feed.Close()
	assert.Equal(t, "a", next(t, feed).ID)

	err = waitEnd(t, feed)
	assert.ErrorIs(t, err, constants.ErrTransport)
	assert.Zero(t, rxcouch.StatusCode(err))
}

func TestChangesCloseAbortsSlowRequest(t *testing.T) {
	fake, db := newDatabase(t, "albums")
	fake.SetGlobalFailures([]fakecouch.FailureConfig{
		{Type: fakecouch.FailureRequestDelay, Probability: 1, MinDelay: time.Minute, MaxDelay: time.Minute},
	})

	feed, err := db.Changes(context.Background(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fake.ChangesRequests("albums") == 1 }, waitTimeout, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, feed.Close())
	assert.Less(t, time.Since(start), waitTimeout)
	assert.NoError(t, feed.Err())
}

func TestChangeDocumentWithoutIncludeDocs(t *testing.T) {
	ctx := context.Background()
	_, db := newDatabase(t, "albums")
	res, err := db.Put(ctx, map[string]any{"_id": "a"})
	require.NoError(t, err)
	_, err = db.Delete(ctx, "a", res.Rev)
	require.NoError(t, err)

	resp, err := db.ChangesOnce(ctx, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	doc := resp.Results[0].Document()
	assert.Equal(t, "a", doc.ID())
	assert.True(t, strings.HasPrefix(doc.Rev(), "2-"))
	assert.Equal(t, true, doc[models.FieldDeleted])
}
