// Package models holds the JSON shapes exchanged with a CouchDB-compatible
// server.
package models

// Reserved document fields.
const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldDeleted = "_deleted"
	// FieldEmpty marks the placeholder an observer emits for a document that
	// does not exist yet. Servers never send it.
	FieldEmpty = "_empty"
)

// Document is an arbitrary JSON object.
type Document map[string]any

// ID returns _id, or "" when absent or not a string.
//
//	"album-1" == doc.ID()
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Rev returns _rev, or "" when absent or not a string.
//
//	"3-1234def1234" == doc.Rev()
func (d Document) Rev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

// Deleted reports whether the document is a tombstone.
func (d Document) Deleted() bool {
	deleted, _ := d[FieldDeleted].(bool)
	return deleted
}

// Empty reports whether the document is an observer placeholder for a
// missing document.
func (d Document) Empty() bool {
	empty, _ := d[FieldEmpty].(bool)
	return empty
}

// Clone returns a shallow copy. Nested values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Placeholder returns the value observers emit while a document is absent.
// It is distinct from a tombstone, which carries _deleted and a _rev.
func Placeholder(id string) Document {
	return Document{FieldID: id, FieldEmpty: true}
}
