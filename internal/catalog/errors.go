package catalog

import (
	"fmt"
	"time"
)

// ErrUnavailable indicates a transport failure talking to a catalog.
type ErrUnavailable struct {
	Catalog Name
	Cause   error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Catalog, e.Cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.Cause }

// ErrRateLimited indicates the catalog kept throttling until the attempt
// cap was reached.
type ErrRateLimited struct {
	Catalog    Name
	Attempts   int
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited by %s after %d attempts", e.Catalog, e.Attempts)
}

// ErrUnauthorized indicates the catalog rejected the credentials.
type ErrUnauthorized struct {
	Catalog Name
	Status  int
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("unauthorized %s request (HTTP %d)", e.Catalog, e.Status)
}

// ErrNotFound indicates the catalog has nothing for the request.
type ErrNotFound struct {
	Catalog Name
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no releases found in %s", e.Catalog)
}

// ErrUnexpectedStatus covers every other non-2xx response.
type ErrUnexpectedStatus struct {
	Catalog Name
	Status  int
}

func (e *ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("unexpected %s status %d", e.Catalog, e.Status)
}
