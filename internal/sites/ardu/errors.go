package ardu

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ardu-agent/internal/core/domain"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s failed (%d)", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.Path, e.Status, e.Message)
}

// Unwrap maps auth and not-found statuses onto the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrSessionExpired
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{Method: method, Path: path, Status: status}
	var wire apiError
	if err := json.Unmarshal(body, &wire); err == nil {
		e.Message = firstNonEmpty(wire.Message, wire.Error)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(snippet(body, 180))
	}
	return e
}
