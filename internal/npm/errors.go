package npm

import "errors"

// Sentinel errors for NPM API failures callers need to distinguish. Transport
// failures and unexpected statuses are returned as plain wrapped errors.
var (
	ErrUnauthorized = errors.New("npm: unauthorized")
	ErrForbidden    = errors.New("npm: forbidden")
	ErrNotFound     = errors.New("npm: not found")
)
