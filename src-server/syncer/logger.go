package syncer

import "time"

// Stage tags a log entry with where in the run state machine it was emitted.
type Stage string

const (
	StageFetching Stage = "fetching"
	StageParsing  Stage = "parsing"
	StageDiffing  Stage = "diffing"
	StageApplying Stage = "applying"
)

// One diagnostic line of a sync run. Only produced when the caller opted
// into debug logging; never persisted.
type LogEntry struct {
	At      time.Time `json:"at"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	Detail  []any     `json:"detail,omitempty"`
}

// RunLogger receives the ordered diagnostic stream of one sync run. Detail
// args are slog-style key/value pairs.
type RunLogger interface {
	Log(stage Stage, message string, detail ...any)
}

// NopLogger is the production default: debug output costs nothing unless
// requested.
type NopLogger struct{}

var _ RunLogger = NopLogger{}

func (NopLogger) Log(Stage, string, ...any) {}

// CollectingLogger accumulates entries for debug responses and tests. Not
// safe for concurrent use; one run writes to it sequentially anyway.
type CollectingLogger struct {
	entries []LogEntry
}

var _ RunLogger = (*CollectingLogger)(nil)

func (l *CollectingLogger) Log(stage Stage, message string, detail ...any) {
	l.entries = append(l.entries, LogEntry{
		At:      time.Now().UTC(),
		Stage:   stage,
		Message: message,
		Detail:  detail,
	})
}

// Entries returns the collected log in emission order.
func (l *CollectingLogger) Entries() []LogEntry {
	return l.entries
}
