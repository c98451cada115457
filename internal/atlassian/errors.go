package atlassian

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the API rejects the bearer token and
	// no refresh path was available (or the post-refresh retry failed again).
	ErrUnauthorized = errors.New("atlassian: unauthorized")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("atlassian: resource not found")

	// ErrRateLimited is returned for 429 responses. The client does not back
	// off and retry on its own.
	ErrRateLimited = errors.New("atlassian: rate limited")

	// ErrNoCloudID is returned when a tenant-scoped operation is attempted
	// before a cloud id has been resolved.
	ErrNoCloudID = errors.New("atlassian: cloud id not selected")
)

// StatusError wraps any other non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("atlassian: unexpected status %d: %s", e.Status, e.Body)
}
