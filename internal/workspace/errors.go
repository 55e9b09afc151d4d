package workspace

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from a workspace service.
type APIError struct {
	Service    string // calendar or mail
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Service, e.StatusCode, e.Message)
}

// IsUnauthorized reports whether the service rejected the access token.
// Callers refresh once and retry before giving up.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized
}
