package syncer

import "errors"

var (
	// ErrSourceNotFound means the calendar source id doesn't exist.
	ErrSourceNotFound = errors.New("sync: calendar source not found")

	// ErrForbidden means the source exists but belongs to a different user.
	// Raised before any network traffic happens.
	ErrForbidden = errors.New("sync: calendar source belongs to another user")
)
