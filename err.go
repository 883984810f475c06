package rxcouch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tangledfruit/rx-couch/pkg/connection"
	"github.com/tangledfruit/rx-couch/pkg/constants"
)

// ArgumentError reports a caller-supplied value rejected before any request
// was made.
type ArgumentError struct {
	Op  string
	Msg string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("rxcouch.%s: %s", e.Op, e.Msg)
}

func (e *ArgumentError) Unwrap() error {
	return constants.ErrInvalidArgument
}

func argError(op, msg string) error {
	return &ArgumentError{Op: op, Msg: msg}
}

// ConfigurationError reports a malformed server URL. Err wraps
// constants.ErrInvalidConfiguration.
type ConfigurationError struct {
	URL string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rxcouch: server URL %q: %v", e.URL, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// RemoteError is an unexpected HTTP status from the server.
type RemoteError = connection.RemoteError

// StatusCode returns the HTTP status carried by err, or 0 if err is not a
// RemoteError.
func StatusCode(err error) int {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsConflict reports a revision mismatch. CouchDB answers 409 for most of
// them and 400 for a malformed or missing revision on some paths.
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}
