package models

// WriteResult is returned by document writes.
type WriteResult struct {
	ID  string `json:"id"`
	OK  bool   `json:"ok"`
	Rev string `json:"rev"`
	// Noop is set by update and replace when nothing needed writing.
	Noop bool `json:"noop,omitempty"`
}

// AllDocsResponse is the body of an _all_docs request, kept as the server
// sent it so fields such as update_seq survive.
type AllDocsResponse map[string]any

// TotalRows reports "total_rows".
func (r AllDocsResponse) TotalRows() int64 {
	return number(r["total_rows"])
}

// Offset reports "offset".
func (r AllDocsResponse) Offset() int64 {
	return number(r["offset"])
}

// Rows returns the "rows" entries that are objects.
func (r AllDocsResponse) Rows() []AllDocsRow {
	raw, _ := r["rows"].([]any)
	rows := make([]AllDocsRow, 0, len(raw))
	for _, v := range raw {
		if row, ok := v.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// AllDocsRow is one row of an _all_docs response.
type AllDocsRow map[string]any

func (r AllDocsRow) ID() string {
	id, _ := r["id"].(string)
	return id
}

func (r AllDocsRow) Key() any {
	return r["key"]
}

func (r AllDocsRow) Value() any {
	return r["value"]
}

// Doc returns the document included with include_docs=true, or nil.
func (r AllDocsRow) Doc() Document {
	doc, _ := r["doc"].(map[string]any)
	return doc
}

// Error is set for keys that matched no document.
func (r AllDocsRow) Error() string {
	e, _ := r["error"].(string)
	return e
}

func number(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// ReplicationResult is the status object returned by _replicate.
type ReplicationResult map[string]any

// OK reports the "ok" field.
func (r ReplicationResult) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}
