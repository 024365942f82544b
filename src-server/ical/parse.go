// The `ical` package turns raw iCalendar payloads into concrete, window-bounded
// Occurrence values.
//
// # References:
// - RFC5545: https://datatracker.ietf.org/doc/html/rfc5545
// - RFC4791 (time-range semantics): https://datatracker.ietf.org/doc/html/rfc4791
//
// # Notes:
// - Property/line decoding (folded lines, DATE vs DATE-TIME, parameters) is
//   delegated to github.com/emersion/go-ical; this package only interprets
//   the decoded components.
// - VALARM sub-components and VTODO components are ignored. Unknown
//   properties are ignored, never fatal.
// - Datetimes with a TZID this host can't resolve fall back to UTC wall
//   time. This is a known approximation and misbehaves near DST edges.
// - All-day events keep their DATE semantics through the IsWholeDay flag;
//   the stored instant is the date's UTC midnight.
//
// # Example usage:
//
// Parse from raw text
//	occurrences, err := ical.ParseText(rawText, window)
//
// Expand an already-decoded calendar (e.g. a CalDAV object body)
//	occurrences, err := ical.ExpandCalendar(calendarObject.Data, window)
package ical

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// A single VEVENT after property interpretation, before recurrence expansion.
type eventComponent struct {
	uid         string
	summary     string
	description string
	location    string
	start       time.Time
	end         time.Time
	wholeDay    bool
	rrule       string
	exDates     []time.Time
	sequence    int

	recurrenceID    time.Time
	hasRecurrenceID bool
}

// Unmarshal a raw iCalendar payload and expand it into occurrences bounded
// by the window.
func ParseText(rawText string, w Window) ([]Occurrence, error) {
	cal, err := ical.NewDecoder(strings.NewReader(rawText)).Decode()
	if err != nil {
		return nil, NewParseError("can't decode iCalendar payload", map[string]any{
			"err": err,
		})
	}
	return ExpandCalendar(cal, w)
}

// Expand a decoded calendar into occurrences bounded by the window.
func ExpandCalendar(cal *ical.Calendar, w Window) ([]Occurrence, error) {
	w = w.Clamped()
	if !w.Valid() {
		return nil, NewParseError("window end must be after window start", map[string]any{
			"start": w.Start,
			"end":   w.End,
		})
	}

	masters := make([]eventComponent, 0)
	overrides := make(map[string][]eventComponent)

	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			// VTODO, VTIMEZONE, VJOURNAL etc. must not break event sync
			continue
		}
		ev, err := interpretEvent(comp)
		if err != nil {
			return nil, err
		}
		if ev.hasRecurrenceID {
			overrides[ev.uid] = append(overrides[ev.uid], *ev)
			continue
		}
		masters = append(masters, *ev)
	}

	occurrences := make([]Occurrence, 0)
	for _, master := range masters {
		expanded, err := expandEvent(master, overrides[master.uid], w)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, expanded...)
	}

	// deterministic output: ascending start, ties by UID
	sort.Slice(occurrences, func(i, j int) bool {
		if occurrences[i].StartDate != occurrences[j].StartDate {
			return occurrences[i].StartDate < occurrences[j].StartDate
		}
		return occurrences[i].UID < occurrences[j].UID
	})

	return occurrences, nil
}

// Interpret a single VEVENT component. Sub-components (VALARM) and unknown
// properties are skipped.
func interpretEvent(comp *ical.Component) (*eventComponent, error) {
	ev := &eventComponent{}

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		ev.uid = prop.Value
	}
	if ev.uid == "" {
		return nil, NewParseError("VEVENT is missing a UID", nil)
	}

	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		ev.summary = prop.Value
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		ev.description = prop.Value
	}
	if prop := comp.Props.Get(ical.PropLocation); prop != nil {
		ev.location = prop.Value
	}

	prop := comp.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return nil, NewParseError("VEVENT is missing DTSTART", map[string]any{
			"uid": ev.uid,
		})
	}
	start, wholeDay, err := propDateTime(prop)
	if err != nil {
		return nil, NewParseError("can't parse DTSTART", map[string]any{
			"uid": ev.uid,
			"err": err,
		})
	}
	ev.start = start
	ev.wholeDay = wholeDay

	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		end, _, err := propDateTime(prop)
		if err != nil {
			return nil, NewParseError("can't parse DTEND", map[string]any{
				"uid": ev.uid,
				"err": err,
			})
		}
		ev.end = end
	}
	if ev.end.IsZero() {
		switch ev.wholeDay {
		case true:
			ev.end = ev.start.AddDate(0, 0, 1)
		case false:
			ev.end = ev.start
		}
	}
	if ev.end.Before(ev.start) {
		return nil, NewParseError("DTEND must not be before DTSTART", map[string]any{
			"uid":   ev.uid,
			"start": ev.start,
			"end":   ev.end,
		})
	}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		ev.rrule = prop.Value
	}

	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		// EXDATE allows a comma-separated value list in one property
		for _, chunk := range strings.Split(prop.Value, ",") {
			exProp := prop
			exProp.Value = chunk
			exDate, _, err := propDateTime(&exProp)
			if err != nil {
				return nil, NewParseError("can't parse EXDATE", map[string]any{
					"uid": ev.uid,
					"err": err,
				})
			}
			ev.exDates = append(ev.exDates, exDate)
		}
	}

	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
		recurrenceID, _, err := propDateTime(prop)
		if err != nil {
			return nil, NewParseError("can't parse RECURRENCE-ID", map[string]any{
				"uid": ev.uid,
				"err": err,
			})
		}
		ev.recurrenceID = recurrenceID
		ev.hasRecurrenceID = true
	}

	if prop := comp.Props.Get(ical.PropSequence); prop != nil {
		sequence, err := strconv.Atoi(strings.TrimSpace(prop.Value))
		if err != nil || sequence < 0 {
			return nil, NewParseError("SEQUENCE must be a non-negative integer", map[string]any{
				"uid":      ev.uid,
				"sequence": prop.Value,
			})
		}
		ev.sequence = sequence
	}

	return ev, nil
}

// Resolve a DATE/DATE-TIME property to an absolute UTC instant plus the
// whole-day marker. Unresolvable TZIDs degrade to UTC wall time.
func propDateTime(prop *ical.Prop) (time.Time, bool, error) {
	wholeDay := prop.Params.Get(ical.ParamValue) == string(ical.ValueDate)

	t, err := prop.DateTime(time.UTC)
	if err != nil && prop.Params.Get(ical.ParamTimezoneID) != "" {
		// TODO(tz): ship a bundled tzdata mapping instead of degrading to UTC
		prop.Params.Del(ical.ParamTimezoneID)
		t, err = prop.DateTime(time.UTC)
	}
	if err != nil {
		return time.Time{}, false, err
	}

	return t.UTC(), wholeDay, nil
}
