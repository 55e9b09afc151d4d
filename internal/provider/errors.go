package provider

import (
	"errors"
	"fmt"
)

// ProviderError is a non-2xx (or in-body error) response from a model API.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// IsOverloaded reports whether err is the transient capacity signal
// (429/503/529 or the vendor's overloaded error type). This is the only
// class of model error that callers retry.
func IsOverloaded(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.StatusCode {
	case 429, 503, 529:
		return true
	}
	return pe.Type == "overloaded_error"
}

func IsAuthError(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == 401 || pe.StatusCode == 403
}
