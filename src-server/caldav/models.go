package caldav

import (
	"time"

	"github.com/emersion/go-ical"
)

// Already-decrypted source credentials, passed explicitly for the lifetime
// of one fetch. Never log this struct.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// One CalDAV resource as returned by the remote: its href, the decoded
// iCalendar body and the server's change token where available.
type RemoteObject struct {
	Path    string
	ETag    string // may be empty if the server doesn't support conditional fetch
	ModTime time.Time
	Data    *ical.Calendar
}
