package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrAuthentication signals that login or refresh was rejected by the engine.
// Callers should map it to a 401 response; the broker has already cleared its
// token state by the time this surfaces.
var ErrAuthentication = errors.New("engine authentication failed")

// APIError carries the HTTP status and response body text of a failed engine
// call.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("engine responded %d", e.Status)
	}
	return fmt.Sprintf("engine responded %d: %s", e.Status, body)
}

// IsNotFound reports whether err is an engine 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err is an engine 401.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
