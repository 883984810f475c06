package fakecouch

import (
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tangledfruit/rx-couch/internal/couchurl"
	"github.com/tangledfruit/rx-couch/internal/rand"
	"github.com/tangledfruit/rx-couch/pkg/constants"
)

//nolint:gocyclo
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	segs, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid path escaping")
		return
	}

	switch {
	case len(segs) == 0 && r.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{"couchdb": "Welcome", "version": "fakecouch", "vendor": map[string]any{"name": "rx-couch"}})
	case len(segs) == 1 && segs[0] == "_all_dbs" && r.Method == http.MethodGet:
		s.handleAllDbs(w)
	case len(segs) == 1 && segs[0] == "_replicate" && r.Method == http.MethodPost:
		s.handleReplicate(w, r)
	case len(segs) == 1:
		s.handleDatabase(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "_all_docs" && r.Method == http.MethodGet:
		s.handleAllDocs(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "_changes" && r.Method == http.MethodGet:
		s.handleChanges(w, r, segs[0])
	default:
		s.handleDocument(w, r, segs[0], strings.Join(segs[1:], "/"))
	}
}

func (s *Server) handleAllDbs(w http.ResponseWriter) {
	s.mu.Lock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPut:
		if !couchurl.ValidDatabaseName(name) {
			s.writeError(w, http.StatusBadRequest, "illegal_database_name", "Name: '"+name+"'. Only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter.")
			return
		}
		s.mu.Lock()
		_, exists := s.dbs[name]
		if !exists {
			s.dbs[name] = newDatabase(name)
		}
		s.mu.Unlock()
		if exists {
			s.writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"ok": true})

	case http.MethodDelete:
		s.mu.Lock()
		db, exists := s.dbs[name]
		if exists {
			delete(s.dbs, name)
			// Wake long polls so they notice the database is gone.
			db.notify()
		}
		s.mu.Unlock()
		if !exists {
			s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case http.MethodGet:
		s.mu.Lock()
		db, exists := s.dbs[name]
		var info map[string]any
		if exists {
			info = map[string]any{"db_name": name, "doc_count": len(db.live()), "update_seq": db.seq}
		}
		s.mu.Unlock()
		if !exists {
			s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		s.writeJSON(w, http.StatusOK, info)

	case http.MethodPost:
		body, ok := s.readDocument(w, r)
		if !ok {
			return
		}
		id, _ := body["_id"].(string)
		if id == "" {
			id = rand.NewUUID()
		}
		s.writeDocument(w, r, name, id, body)

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only DELETE,GET,HEAD,POST,PUT allowed")
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, dbName, id string) {
	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		var (
			out map[string]any
			err *writeError
		)
		db, exists := s.dbs[dbName]
		if exists {
			doc, getErr := db.get(id)
			if getErr != nil {
				err = getErr.(*writeError)
			} else if rev := r.URL.Query().Get("rev"); rev != "" && rev != doc.rev() {
				err = errNotFound
			} else {
				out = doc.full()
			}
		}
		s.mu.Unlock()
		switch {
		case !exists:
			s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		case err != nil:
			s.writeError(w, err.status, err.name, err.reason)
		default:
			s.writeJSON(w, http.StatusOK, out)
		}

	case http.MethodPut:
		body, ok := s.readDocument(w, r)
		if !ok {
			return
		}
		s.writeDocument(w, r, dbName, id, body)

	case http.MethodDelete:
		rev := requestRev(r, nil)
		s.mu.Lock()
		db, exists := s.dbs[dbName]
		var (
			newRev string
			err    error
		)
		if exists {
			if _, err = db.get(id); err == nil {
				if rev == "" {
					err = errConflict
				} else {
					newRev, err = db.write(id, rev, map[string]any{}, true)
				}
			}
		}
		s.mu.Unlock()
		switch {
		case !exists:
			s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		case err != nil:
			we := err.(*writeError)
			s.writeError(w, we.status, we.name, we.reason)
		default:
			s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "rev": newRev})
		}

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only DELETE,GET,HEAD,POST,PUT allowed")
	}
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, false
	}
	var body map[string]any
	if err := s.codec.Unmarshal(data, &body); err != nil || body == nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "Document must be a JSON object")
		return nil, false
	}
	return body, true
}

// requestRev finds the revision a write is conditional on, checking the
// If-Match header, the rev query parameter and the _rev body field.
func requestRev(r *http.Request, body map[string]any) string {
	if rev := r.Header.Get("If-Match"); rev != "" {
		return strings.Trim(rev, `"`)
	}
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	rev, _ := body["_rev"].(string)
	return rev
}

func (s *Server) writeDocument(w http.ResponseWriter, r *http.Request, dbName, id string, body map[string]any) {
	rev := requestRev(r, body)
	if bodyRev, ok := body["_rev"].(string); ok && bodyRev != rev {
		s.writeError(w, http.StatusBadRequest, "bad_request", "Document rev from request body and query string have different values")
		return
	}
	deleted, _ := body["_deleted"].(bool)
	clean := make(map[string]any, len(body))
	for k, v := range body {
		if k == "_id" || k == "_rev" || k == "_deleted" {
			continue
		}
		clean[k] = v
	}

	s.mu.Lock()
	db, exists := s.dbs[dbName]
	var (
		newRev string
		err    error
	)
	if exists {
		newRev, err = db.write(id, rev, clean, deleted)
	}
	s.mu.Unlock()

	switch {
	case !exists:
		s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
	case err != nil:
		we := err.(*writeError)
		s.writeError(w, we.status, we.name, we.reason)
	default:
		s.writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": newRev})
	}
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request, dbName string) {
	q := r.URL.Query()
	var startKey, endKey string
	hasStart, hasEnd := false, false
	for _, p := range []struct {
		names []string
		dst   *string
		has   *bool
	}{
		{[]string{"startkey", "start_key"}, &startKey, &hasStart},
		{[]string{"endkey", "end_key"}, &endKey, &hasEnd},
	} {
		for _, name := range p.names {
			raw := q.Get(name)
			if raw == "" {
				continue
			}
			if err := s.codec.Unmarshal([]byte(raw), p.dst); err != nil {
				s.writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
				return
			}
			*p.has = true
		}
	}
	includeDocs := q.Get("include_docs") == "true"
	limit := -1
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "query_parse_error", "Invalid value for integer: \""+raw+"\"")
			return
		}
		limit = n
	}

	s.mu.Lock()
	db, exists := s.dbs[dbName]
	var resp map[string]any
	if exists {
		live := db.live()
		rows := make([]map[string]any, 0)
		offset := 0
		for _, doc := range live {
			if hasStart && doc.id < startKey {
				offset++
				continue
			}
			if hasEnd && doc.id > endKey {
				break
			}
			if limit >= 0 && len(rows) >= limit {
				break
			}
			row := map[string]any{"id": doc.id, "key": doc.id, "value": map[string]any{"rev": doc.rev()}}
			if includeDocs {
				row["doc"] = doc.full()
			}
			rows = append(rows, row)
		}
		resp = map[string]any{"total_rows": len(live), "offset": offset, "rows": rows}
		if q.Get("update_seq") == "true" {
			resp["update_seq"] = db.seq
		}
	}
	s.mu.Unlock()

	if !exists {
		s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

//nolint:gocyclo,funlen
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, dbName string) {
	q := r.URL.Query()
	longpoll := q.Get("feed") == "longpoll"
	if feed := q.Get("feed"); feed == "continuous" || feed == "eventsource" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "feed "+feed+" is not supported by fakecouch")
		return
	}
	includeDocs := q.Get("include_docs") == "true"

	var ids map[string]bool
	if filter := q.Get("filter"); filter != "" {
		if filter != "_doc_ids" {
			s.writeError(w, http.StatusNotFound, "not_found", "missing")
			return
		}
		s.mu.Lock()
		status := s.docIDsFilterStatus
		s.mu.Unlock()
		if status != 0 {
			s.writeError(w, status, "not_found", "missing json key: filter _doc_ids")
			return
		}
		var list []string
		if err := s.codec.Unmarshal([]byte(q.Get("doc_ids")), &list); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "`doc_ids` filter parameter is not a list of doc ids.")
			return
		}
		ids = make(map[string]bool, len(list))
		for _, id := range list {
			ids[id] = true
		}
	}

	timeout := s.LongPollTimeout
	if timeout <= 0 {
		timeout = constants.DefaultLongPollTimeout
	}
	if raw := q.Get("timeout"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			s.writeError(w, http.StatusBadRequest, "bad_request", "invalid timeout")
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var since int64
	sinceResolved := false
	for {
		s.mu.Lock()
		db, exists := s.dbs[dbName]
		if !exists {
			s.mu.Unlock()
			s.writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		if !sinceResolved {
			switch raw := q.Get("since"); raw {
			case "", "0":
			case "now":
				since = db.seq
			default:
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					s.mu.Unlock()
					s.writeError(w, http.StatusBadRequest, "bad_request", "Malformed sequence supplied in 'since' parameter.")
					return
				}
				since = n
			}
			sinceResolved = true
		}

		changed := db.since(since, ids)
		results := make([]map[string]any, 0, len(changed))
		for _, doc := range changed {
			row := map[string]any{
				"seq":     doc.seq,
				"id":      doc.id,
				"changes": []map[string]any{{"rev": doc.rev()}},
			}
			if doc.deleted {
				row["deleted"] = true
			}
			if includeDocs {
				row["doc"] = doc.full()
			}
			results = append(results, row)
		}
		lastSeq := db.seq
		wait := db.updated
		s.mu.Unlock()

		if len(results) > 0 || !longpoll {
			s.writeJSON(w, http.StatusOK, map[string]any{"results": results, "last_seq": lastSeq, "pending": 0})
			return
		}

		select {
		case <-wait:
		case <-timer.C:
			s.writeJSON(w, http.StatusOK, map[string]any{"results": results, "last_seq": lastSeq, "pending": 0})
			return
		case <-r.Context().Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var req struct {
		Source       string `json:"source"`
		Target       string `json:"target"`
		CreateTarget bool   `json:"create_target"`
	}
	if err := s.codec.Unmarshal(data, &req); err != nil || req.Source == "" || req.Target == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "Both source and target must be specified")
		return
	}
	sourceName, err := localName(req.Source)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	targetName, err := localName(req.Target)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s.mu.Lock()
	src, srcOK := s.dbs[sourceName]
	dst, dstOK := s.dbs[targetName]
	if srcOK && !dstOK && req.CreateTarget {
		dst = newDatabase(targetName)
		s.dbs[targetName] = dst
		dstOK = true
	}
	var read, written int
	var sourceSeq int64
	if srcOK && dstOK {
		for _, doc := range src.since(0, nil) {
			read++
			if dst.adopt(doc) {
				written++
			}
		}
		sourceSeq = src.seq
	}
	s.mu.Unlock()

	switch {
	case !srcOK:
		s.writeError(w, http.StatusNotFound, "db_not_found", "could not open "+req.Source)
	case !dstOK:
		s.writeError(w, http.StatusNotFound, "db_not_found", "could not open "+req.Target)
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":              true,
			"session_id":      rand.NewUUID(),
			"source_last_seq": sourceSeq,
			"history": []map[string]any{{
				"docs_read":    read,
				"docs_written": written,
			}},
		})
	}
}

// localName maps a replication endpoint, either a bare name or a database
// URL on any host, to a database name on this server.
func localName(endpoint string) (string, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return url.PathUnescape(strings.Trim(u.EscapedPath(), "/"))
}
