package caldav

import "fmt"

// AuthError means the remote rejected the source's credentials (401/403).
// Retrying without new credentials is pointless.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("caldav: remote rejected credentials | status: %d: %v", e.Status, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NetworkError means the fetch failed for a transient reason (5xx, connection
// failure, timeout). Safe for the caller to retry later with backoff.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("caldav: transient network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError means the remote answered with something that isn't usable
// CalDAV (bad multistatus, non-calendar resource, 404). Usually a
// misconfigured source URL.
type ProtocolError struct {
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("caldav: remote isn't speaking usable CalDAV | status: %d: %v", e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
