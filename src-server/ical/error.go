package ical

import (
	"fmt"
	"strings"
)

// ParseError carries the offending line/component context alongside the
// message so callers can log a skipped component without re-deriving it.
type ParseError struct {
	msg  string
	args map[string]any
}

// Create a new parse error
func NewParseError(msg string, args map[string]any) *ParseError {
	if args == nil {
		args = make(map[string]any)
	}
	return &ParseError{
		msg:  msg,
		args: args,
	}
}

// Get the error message
func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.msg)
	sb.WriteString(" | ")
	for key, value := range e.args {
		sb.WriteString(fmt.Sprintf(" %s: %v", key, value))
	}
	return sb.String()
}
