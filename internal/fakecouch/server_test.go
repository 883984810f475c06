package fakecouch

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer()
	server.Start()
	t.Cleanup(server.Stop)
	return server
}

func do(t *testing.T, method, u string, header http.Header, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, u, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestServer(t *testing.T) {
	server := startServer(t)
	assert.NotEmpty(t, server.URL())

	status, body := do(t, http.MethodGet, server.URL()+"/", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Welcome", body["couchdb"])
}

func TestDatabaseLifecycle(t *testing.T) {
	server := startServer(t)

	status, _ := do(t, http.MethodPut, server.URL()+"/albums", nil, nil)
	assert.Equal(t, http.StatusCreated, status)
	status, body := do(t, http.MethodPut, server.URL()+"/albums", nil, nil)
	assert.Equal(t, http.StatusPreconditionFailed, status)
	assert.Equal(t, "file_exists", body["error"])

	status, _ = do(t, http.MethodPut, server.URL()+"/Albums", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPut, server.URL()+"/"+url.PathEscape("a/b"), nil, nil)
	assert.Equal(t, http.StatusCreated, status)
	_, ok := server.dbs["a/b"]
	assert.True(t, ok, "escaped slash stays part of the name")

	status, _ = do(t, http.MethodDelete, server.URL()+"/albums", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, http.MethodDelete, server.URL()+"/albums", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRevisionRules(t *testing.T) {
	server := startServer(t)
	server.CreateDatabase("albums")
	docURL := server.URL() + "/albums/x"

	status, body := do(t, http.MethodPut, docURL, nil, map[string]any{"foo": "bar"})
	require.Equal(t, http.StatusCreated, status)
	rev1 := body["rev"].(string)
	assert.True(t, strings.HasPrefix(rev1, "1-"))

	status, body = do(t, http.MethodPut, docURL, nil, map[string]any{"foo": "bar2"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["error"])

	status, _ = do(t, http.MethodPut, docURL, http.Header{"If-Match": {"garbage"}}, map[string]any{"foo": "bar2"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, http.MethodPut, docURL, http.Header{"If-Match": {rev1}}, map[string]any{"foo": "bar2"})
	require.Equal(t, http.StatusCreated, status)
	rev2 := body["rev"].(string)
	assert.True(t, strings.HasPrefix(rev2, "2-"))

	status, _ = do(t, http.MethodDelete, docURL, http.Header{"If-Match": {rev1}}, nil)
	assert.Equal(t, http.StatusConflict, status)
	status, _ = do(t, http.MethodDelete, docURL, http.Header{"If-Match": {rev2}}, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = do(t, http.MethodGet, docURL, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "deleted", body["reason"])
	assert.Len(t, server.Revisions("albums", "x"), 3)

	// A tombstone can be overwritten without a revision.
	status, body = do(t, http.MethodPut, docURL, nil, map[string]any{"foo": "again"})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, strings.HasPrefix(body["rev"].(string), "4-"))
}

func TestAllDocsRequiresJSONKeys(t *testing.T) {
	server := startServer(t)
	server.CreateDatabase("albums")
	for _, id := range []string{"a", "b", "c"} {
		status, _ := do(t, http.MethodPut, server.URL()+"/albums/"+id, nil, map[string]any{})
		require.Equal(t, http.StatusCreated, status)
	}

	status, _ := do(t, http.MethodGet, server.URL()+"/albums/_all_docs?startkey=b", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := do(t, http.MethodGet, server.URL()+"/albums/_all_docs?startkey=%22b%22&include_docs=true", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["total_rows"])
	assert.EqualValues(t, 1, body["offset"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].(map[string]any)["id"])
	assert.NotNil(t, rows[0].(map[string]any)["doc"])
}

func TestLongPollWakesOnWrite(t *testing.T) {
	server := startServer(t)
	server.CreateDatabase("albums")

	type result struct {
		status int
		body   map[string]any
	}
	done := make(chan result, 1)
	go func() {
		status, body := do(t, http.MethodGet, server.URL()+"/albums/_changes?feed=longpoll&since=now&include_docs=true", nil, nil)
		done <- result{status, body}
	}()

	require.Eventually(t, func() bool { return server.ChangesRequests("albums") == 1 }, time.Second, 5*time.Millisecond)
	status, _ := do(t, http.MethodPut, server.URL()+"/albums/x", nil, map[string]any{"foo": "bar"})
	require.Equal(t, http.StatusCreated, status)

	select {
	case res := <-done:
		assert.Equal(t, http.StatusOK, res.status)
		results := res.body["results"].([]any)
		require.Len(t, results, 1)
		change := results[0].(map[string]any)
		assert.Equal(t, "x", change["id"])
		assert.Equal(t, "bar", change["doc"].(map[string]any)["foo"])
		assert.EqualValues(t, 1, res.body["last_seq"])
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not return after a write")
	}
}

func TestLongPollTimeout(t *testing.T) {
	server := startServer(t)
	server.CreateDatabase("albums")

	status, body := do(t, http.MethodGet, server.URL()+"/albums/_changes?feed=longpoll&timeout=20", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["results"])
}

func TestDocIDsFilter(t *testing.T) {
	server := startServer(t)
	server.CreateDatabase("albums")
	for _, id := range []string{"a", "b"} {
		status, _ := do(t, http.MethodPut, server.URL()+"/albums/"+id, nil, map[string]any{})
		require.Equal(t, http.StatusCreated, status)
	}

	query := "/albums/_changes?filter=_doc_ids&doc_ids=" + url.QueryEscape(`["b"]`)
	status, body := do(t, http.MethodGet, server.URL()+query, nil, nil)
	require.Equal(t, http.StatusOK, status)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].(map[string]any)["id"])

	server.DisableDocIDsFilter(http.StatusNotFound)
	status, _ = do(t, http.MethodGet, server.URL()+query, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestReplicate(t *testing.T) {
	server := startServer(t)
	server.CreateDatabase("src")
	status, _ := do(t, http.MethodPut, server.URL()+"/src/x", nil, map[string]any{"foo": "bar"})
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, http.MethodPost, server.URL()+"/_replicate", nil, map[string]any{
		"source":        "src",
		"target":        server.URL() + "/dst",
		"create_target": true,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	doc, ok := server.Document("dst", "x")
	require.True(t, ok)
	assert.Equal(t, "bar", doc["foo"])
	src, _ := server.Document("src", "x")
	assert.Equal(t, src["_rev"], doc["_rev"])
}

func TestStubsAndFailures(t *testing.T) {
	server := startServer(t)
	server.AddStubResponse(ErrorStubResponse(http.MethodGet, "/_all_dbs", http.StatusUnauthorized, "unauthorized", "You are not a server admin."))

	status, body := do(t, http.MethodGet, server.URL()+"/_all_dbs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	server.SetGlobalFailures([]FailureConfig{{Type: FailureStatus, Probability: 1, Status: http.StatusServiceUnavailable}})
	status, _ = do(t, http.MethodGet, server.URL()+"/", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, 1, server.RequestCount("/"))
}
