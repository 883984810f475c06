// Package couchurl builds and validates the URLs rxcouch sends requests to.
package couchurl

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tangledfruit/rx-couch/pkg/constants"
)

var databaseName = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

var (
	ErrNotString   = errors.New("name must be a string")
	ErrIllegalName = errors.New("illegal name")
)

// ParseServerURL validates a server base URL and returns it normalized with
// a trailing slash. The URL must be absolute http(s), and must not carry a
// path other than "/" or a query string.
func ParseServerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", constants.ErrInvalidConfiguration, err)
	}
	if u.Scheme != constants.HTTPScheme && u.Scheme != constants.HTTPSecureScheme {
		return "", fmt.Errorf("%w: unsupported scheme %q", constants.ErrInvalidConfiguration, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", constants.ErrInvalidConfiguration)
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("%w: server URL must not contain a path (%s)", constants.ErrInvalidConfiguration, u.Path)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return "", fmt.Errorf("%w: server URL must not contain a query string", constants.ErrInvalidConfiguration)
	}
	if u.Fragment != "" {
		return "", fmt.Errorf("%w: server URL must not contain a fragment", constants.ErrInvalidConfiguration)
	}

	u.Path = "/"
	u.RawPath = ""
	return u.String(), nil
}

// ValidDatabaseName reports whether name is acceptable to CouchDB as a
// user database name.
func ValidDatabaseName(name string) bool {
	return databaseName.MatchString(name)
}

// CheckDatabaseName returns ErrIllegalName for names CouchDB would reject.
func CheckDatabaseName(name string) error {
	if !ValidDatabaseName(name) {
		return ErrIllegalName
	}
	return nil
}

// NameFromAny validates a database name that arrived as a decoded JSON value.
func NameFromAny(v any) (string, error) {
	name, ok := v.(string)
	if !ok {
		return "", ErrNotString
	}
	return name, CheckDatabaseName(name)
}

// DatabaseURL joins a normalized server base URL and a database name.
// Slashes in the name are escaped, as CouchDB requires.
func DatabaseURL(base, name string) string {
	return base + url.PathEscape(name)
}

// DocumentURL joins a database URL and a document ID.
func DocumentURL(dbURL, id string) string {
	return dbURL + "/" + url.PathEscape(id)
}

// Join appends a path segment that needs no escaping, like "_changes".
func Join(base, segment string) string {
	return strings.TrimSuffix(base, "/") + "/" + segment
}

// Mode selects how option values are turned into query parameters.
type Mode int

const (
	// Verbatim stringifies values as they are.
	Verbatim Mode = iota
	// JSONArrays JSON-encodes arrays and objects, stringifies scalars.
	JSONArrays
	// JSONScalars JSON-encodes every value. Strings already wrapped in
	// double quotes are passed through untouched.
	JSONScalars
)

// Query serializes opts into an encoded query string, keys in sorted order.
// It returns "" for empty options.
func Query(opts map[string]any, mode Mode) (string, error) {
	if len(opts) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := encodeValue(opts[k], mode)
		if err != nil {
			return "", fmt.Errorf("option %q: %w", k, err)
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	return b.String(), nil
}

// WithQuery appends the encoded options to u.
func WithQuery(u string, opts map[string]any, mode Mode) (string, error) {
	q, err := Query(opts, mode)
	if err != nil || q == "" {
		return u, err
	}
	return u + "?" + q, nil
}

func encodeValue(v any, mode Mode) (string, error) {
	switch mode {
	case JSONScalars:
		if s, ok := v.(string); ok {
			if isQuoted(s) {
				return s, nil
			}
			return strconv.Quote(s), nil
		}
		return marshal(v)
	case JSONArrays:
		if isComposite(v) {
			return marshal(v)
		}
		return scalar(v)
	default:
		return scalar(v)
	}
}

// isQuoted is a literal prefix/suffix check, not a JSON parse.
func isQuoted(s string) bool {
	return len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)
}

func scalar(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case nil:
		return "null", nil
	}
	return marshal(v)
}

func isComposite(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return true
	}
	return false
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
