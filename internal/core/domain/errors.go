package domain

import "errors"

var (
	ErrSessionExpired    = errors.New("session expired, please log in again")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNotFound          = errors.New("not found")
	ErrMalformedResponse = errors.New("malformed response body")
	ErrActionInFlight    = errors.New("an action is already in flight for this post")
	ErrForbiddenRole     = errors.New("admin role required")
)

// ErrLoginRejected covers wrong credentials and accounts not yet approved by an admin.
var ErrLoginRejected = errors.New("login rejected: wrong credentials or account not approved yet")
