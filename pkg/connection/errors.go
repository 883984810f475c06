package connection

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/tangledfruit/rx-couch/pkg/constants"
)

// RemoteError is a non-2xx answer from CouchDB. ErrorName and Reason come
// from the JSON body when the server sent one.
type RemoteError struct {
	StatusCode int
	Status     string
	Method     string
	URL        string
	ErrorName  string
	Reason     string
}

func newRemoteError(method, url string, resp *http.Response, body []byte) *RemoteError {
	e := &RemoteError{
		StatusCode: resp.StatusCode,
		Status:     strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "),
		Method:     method,
		URL:        url,
	}
	if e.Status == "" {
		e.Status = http.StatusText(resp.StatusCode)
	}
	if name, err := jsonparser.GetString(body, "error"); err == nil {
		e.ErrorName = name
	}
	if reason, err := jsonparser.GetString(body, "reason"); err == nil {
		e.Reason = reason
	}
	return e
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("HTTP error %d (%s): %s %s", e.StatusCode, e.Status, e.Method, e.URL)
	switch {
	case e.ErrorName != "" && e.Reason != "":
		msg += fmt.Sprintf(" (%s: %s)", e.ErrorName, e.Reason)
	case e.ErrorName != "":
		msg += fmt.Sprintf(" (%s)", e.ErrorName)
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return constants.ErrRemote
}

func transportError(method, url string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", constants.ErrTransport, method, url, err)
}
