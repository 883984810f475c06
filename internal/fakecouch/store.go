package fakecouch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tangledfruit/rx-couch/internal/rand"
)

// document is the stored state of one document. Only the winning revision
// body is kept; revs lists every revision ever written, oldest first.
type document struct {
	id      string
	revs    []string
	body    map[string]any
	deleted bool
	seq     int64
}

func (d *document) rev() string {
	return d.revs[len(d.revs)-1]
}

// full returns the body with _id and _rev, as GET would.
func (d *document) full() map[string]any {
	out := make(map[string]any, len(d.body)+2)
	for k, v := range d.body {
		out[k] = v
	}
	out["_id"] = d.id
	out["_rev"] = d.rev()
	if d.deleted {
		out["_deleted"] = true
	}
	return out
}

type database struct {
	name string
	docs map[string]*document
	seq  int64
	// updated is closed and replaced on every write, waking long polls.
	updated chan struct{}
}

func newDatabase(name string) *database {
	return &database{
		name:    name,
		docs:    make(map[string]*document),
		updated: make(chan struct{}),
	}
}

func (db *database) notify() {
	close(db.updated)
	db.updated = make(chan struct{})
}

type writeError struct {
	status int
	name   string
	reason string
}

func (e *writeError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.name, e.reason)
}

var (
	errConflict  = &writeError{status: 409, name: "conflict", reason: "Document update conflict."}
	errBadRev    = &writeError{status: 400, name: "bad_request", reason: "Invalid rev format"}
	errNotFound  = &writeError{status: 404, name: "not_found", reason: "missing"}
	errIsDeleted = &writeError{status: 404, name: "not_found", reason: "deleted"}
)

func generation(rev string) (int, bool) {
	prefix, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return 0, false
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// write stores body under id following CouchDB's revision rules: a new or
// deleted document needs no rev; a live one needs its current rev.
func (db *database) write(id, rev string, body map[string]any, deleted bool) (string, error) {
	if rev != "" {
		if _, ok := generation(rev); !ok {
			return "", errBadRev
		}
	}

	existing := db.docs[id]
	gen := 0
	switch {
	case existing == nil:
		if rev != "" {
			return "", errConflict
		}
	case existing.deleted && rev == "":
		gen, _ = generation(existing.rev())
	default:
		if rev != existing.rev() {
			return "", errConflict
		}
		gen, _ = generation(rev)
	}

	newRev := fmt.Sprintf("%d-%s", gen+1, rand.NewUUID())
	db.seq++
	doc := existing
	if doc == nil {
		doc = &document{id: id}
		db.docs[id] = doc
	}
	doc.revs = append(doc.revs, newRev)
	doc.body = body
	doc.deleted = deleted
	doc.seq = db.seq
	db.notify()
	return newRev, nil
}

// adopt copies a document revision from another database verbatim, as
// replication does. It reports whether anything changed.
func (db *database) adopt(src *document) bool {
	existing := db.docs[src.id]
	if existing != nil && existing.rev() == src.rev() {
		return false
	}
	db.seq++
	body := make(map[string]any, len(src.body))
	for k, v := range src.body {
		body[k] = v
	}
	db.docs[src.id] = &document{
		id:      src.id,
		revs:    append([]string(nil), src.revs...),
		body:    body,
		deleted: src.deleted,
		seq:     db.seq,
	}
	db.notify()
	return true
}

func (db *database) get(id string) (*document, error) {
	doc := db.docs[id]
	switch {
	case doc == nil:
		return nil, errNotFound
	case doc.deleted:
		return nil, errIsDeleted
	}
	return doc, nil
}

// live returns the non-deleted documents ordered by ID.
func (db *database) live() []*document {
	out := make([]*document, 0, len(db.docs))
	for _, d := range db.docs {
		if !d.deleted {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// since returns documents changed after seq, in sequence order, optionally
// restricted to ids.
func (db *database) since(seq int64, ids map[string]bool) []*document {
	var out []*document
	for _, d := range db.docs {
		if d.seq <= seq {
			continue
		}
		if ids != nil && !ids[d.id] {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
