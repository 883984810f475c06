package models

// Revision is one entry of a change's leaf revision list.
type Revision struct {
	Rev string `json:"rev"`
}

// Change is one row of a _changes response.
type Change struct {
	// Seq is a number on CouchDB 1.x and an opaque string on 2.x and later.
	Seq     any        `json:"seq"`
	ID      string     `json:"id"`
	Changes []Revision `json:"changes"`
	Deleted bool       `json:"deleted,omitempty"`
	// Doc is only populated when include_docs is set.
	Doc Document `json:"doc,omitempty"`
}

// Document returns the embedded document, or a synthetic one built from the
// row when include_docs was not requested.
func (c Change) Document() Document {
	if c.Doc != nil {
		return c.Doc
	}
	doc := Document{FieldID: c.ID}
	if len(c.Changes) > 0 {
		doc[FieldRev] = c.Changes[0].Rev
	}
	if c.Deleted {
		doc[FieldDeleted] = true
	}
	return doc
}

// ChangesResponse is the body of a normal or longpoll _changes request.
type ChangesResponse struct {
	Results []Change `json:"results"`
	LastSeq any      `json:"last_seq"`
	Pending int64    `json:"pending,omitempty"`
}
