// The [rxcouch] package is a client for CouchDB-compatible servers that
// exposes document changes as streams.
//
// # Handles
//
// [NewServer] validates a base URL and returns a [Server]. [Server.DB] returns
// a [Database] without touching the network. Both are safe for concurrent use.
//
// # Point operations
//
// Get, Put, Delete, AllDocs and the database management calls are plain
// blocking methods. Update and Replace add a read-modify-write step on top of
// Put: the current revision is discovered for you, and a write that would not
// change anything is skipped. Neither retries on conflict; call again if a
// concurrent writer got there first.
//
// # Streams
//
// [Database.Changes] and [Database.Observe] return a [Stream]. Values arrive
// on C in order; when C closes, Err tells why. Close cancels the in-flight
// request and waits for the producer to exit, so no further requests are made
// afterwards.
//
// Observe follows a single document with a long-poll feed filtered by
// _doc_ids. If the server refuses that filter, the Database remembers it and
// all of its observers share a single unfiltered feed from then on.
//
// # Errors
//
// Bad arguments fail synchronously with [*ArgumentError]. Unexpected HTTP
// statuses are [*RemoteError]; see [StatusCode], [IsNotFound] and
// [IsConflict]. Sentinels for errors.Is live in
// [github.com/tangledfruit/rx-couch/pkg/constants].
//
// # Contrib
//
// [github.com/tangledfruit/rx-couch/contrib/wsrelay] relays observed
// documents to websocket clients.
package rxcouch
