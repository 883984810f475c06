package rxcouch

import (
	"context"

	"github.com/tangledfruit/rx-couch/internal/jsonutil"
	"github.com/tangledfruit/rx-couch/pkg/models"
)

// Update merges value into the stored document with the same _id. Fields in
// value win and nested objects merge recursively; arrays are replaced. A
// missing document is created.
//
// value must carry _id and must not carry _rev. If the merge changes
// nothing, no write happens and the result has Noop set. A concurrent write
// between the read and the write fails with the same RemoteError as Put.
//
//	res, err := db.Update(ctx, map[string]any{"_id": "album-1", "year": 1971})
func (d *Database) Update(ctx context.Context, value any) (*models.WriteResult, error) {
	return d.modify(ctx, "update", value, false)
}

// Replace stores value as the whole new content of its document, keeping
// only the current revision. Preconditions and noop detection are those of
// Update.
func (d *Database) Replace(ctx context.Context, value any) (*models.WriteResult, error) {
	return d.modify(ctx, "replace", value, true)
}

func (d *Database) modify(ctx context.Context, op string, value any, replace bool) (*models.WriteResult, error) {
	doc, err := d.server.normalize(op, value, true)
	if err != nil {
		return nil, err
	}
	id := doc.ID()
	if id == "" {
		return nil, argError(op, "_id is missing")
	}
	if _, ok := doc[models.FieldRev]; ok {
		return nil, argError(op, "_rev is not allowed")
	}

	existing, err := d.Get(ctx, id, nil)
	switch {
	case IsNotFound(err):
		existing = models.Document{models.FieldID: id}
	case err != nil:
		return nil, err
	}

	var candidate models.Document
	if replace {
		candidate = doc
		if rev := existing.Rev(); rev != "" {
			candidate[models.FieldRev] = rev
		}
	} else {
		candidate = jsonutil.Merge(existing, doc)
	}

	if jsonutil.Equal(candidate, existing) {
		d.server.logger.Debug("write skipped, document unchanged", "op", op, "db", d.name, "id", id)
		return &models.WriteResult{ID: id, OK: true, Rev: existing.Rev(), Noop: true}, nil
	}
	return d.Put(ctx, candidate)
}
