package ical

import (
	"strconv"
	"time"
)

// InstanceKeyFor renders a recurrence instant as the stable per-instance
// identifier. Overrides keep the key of the instant they replace.
func InstanceKeyFor(instant time.Time) string {
	return strconv.FormatInt(instant.UTC().Unix(), 10)
}

// One concrete event instance inside a sync window, either from a single
// event or expanded from a recurrence rule.
type Occurrence struct {
	UID         string `json:"uid"`          // required
	InstanceKey string `json:"instance_key"` // required
	Title       string `json:"title"`        // required
	Description string `json:"description"`
	Location    string `json:"location"`
	StartDate   int64  `json:"start_date"` // unix UTC, required
	EndDate     int64  `json:"end_date"`   // unix UTC, required
	IsWholeDay  bool   `json:"is_whole_day"`
	Sequence    int    `json:"sequence"`
}
