package constants

import "errors"

// Errors
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrRemote               = errors.New("unexpected server response")
	ErrTransport            = errors.New("transport failure")
	ErrNoMarshaler          = errors.New("marshaler is not set")
	ErrNoUnmarshaler        = errors.New("unmarshaler is not set")
)
