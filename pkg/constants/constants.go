package constants

import "time"

const (
	// RequestIDLength is the length of the X-Request-ID value sent with every request.
	RequestIDLength = 16

	// RequestIDHeader carries the request ID generated for each call.
	RequestIDHeader = "X-Request-ID"

	// DefaultLongPollTimeout mirrors CouchDB's own default for how long a
	// longpoll request is held open when no `timeout` option is given.
	DefaultLongPollTimeout = 60 * time.Second
)

var (
	HTTPScheme       = "http"
	HTTPSecureScheme = "https"
)
