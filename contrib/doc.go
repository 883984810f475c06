// Package contrib provides additional functionality and utilities
// for rxcouch.
//
// Everything under this directory extends the core client with features that
// are not part of it: testing utilities and ways of exposing streams to other
// processes.
//
// Note that this package is outside of the backward compatibility guarantees
// provided by the core rxcouch package. Changes here may introduce breaking
// changes without following semantic versioning.
//
// [github.com/tangledfruit/rx-couch/contrib/wsrelay] relays Observe streams to
// websocket clients, one document per connection. For tests and examples,
// [github.com/tangledfruit/rx-couch/contrib/testenv] provides a server with
// fresh databases, backed by a real CouchDB when COUCHDB_URL is set and by an
// in-process fake otherwise, plus a deterministic log/slog handler.
package contrib
