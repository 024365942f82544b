package ical

import (
	"log/slog"
	"strings"
	"time"

	"github.com/xyedo/rrule"
)

// Hard safety cap on occurrences produced by a single component, so an
// ill-formed rule (INTERVAL=0, runaway UNTIL) can't flood the cache.
const MaxOccurrencesPerEvent = 500

// Expand one master event (plus its RECURRENCE-ID overrides) into concrete
// occurrences inside the window. An occurrence belongs to the window when its
// recurrence instant falls inside [w.Start, w.End).
func expandEvent(master eventComponent, overrides []eventComponent, w Window) ([]Occurrence, error) {
	if master.rrule == "" {
		return expandSingleEvent(master, overrides, w), nil
	}
	return expandRecurringEvent(master, overrides, w)
}

func expandSingleEvent(master eventComponent, overrides []eventComponent, w Window) []Occurrence {
	if !w.Contains(master.start) {
		return nil
	}

	instant := master.start
	ev := master
	if override, ok := overrideForInstant(overrides, instant); ok {
		ev = override
	}

	return []Occurrence{makeOccurrence(ev, instant, ev.start, ev.end)}
}

func expandRecurringEvent(master eventComponent, overrides []eventComponent, w Window) ([]Occurrence, error) {
	// the rrule set wants DTSTART alongside the rule itself
	var sb strings.Builder
	sb.WriteString("DTSTART:" + master.start.UTC().Format("20060102T150405Z"))
	sb.WriteString("\nRRULE:" + master.rrule)
	rruleSet, err := rrule.StrToRRuleSet(sb.String())
	if err != nil {
		return nil, NewParseError("can't parse RRULE", map[string]any{
			"uid":   master.uid,
			"rrule": master.rrule,
			"err":   err,
		})
	}
	for _, exDate := range master.exDates {
		rruleSet.ExDate(exDate.UTC())
	}

	instants := rruleSet.Between(w.Start, w.End, true)
	if len(instants) > MaxOccurrencesPerEvent {
		slog.Warn("truncating recurrence expansion",
			"uid", master.uid,
			"rrule", master.rrule,
			"produced", len(instants),
			"cap", MaxOccurrencesPerEvent)
		instants = instants[:MaxOccurrencesPerEvent]
	}

	duration := master.end.Sub(master.start)
	occurrences := make([]Occurrence, 0, len(instants))
	for _, instant := range instants {
		instant = instant.UTC()

		// Between is inclusive on both edges, the window end is not
		if !w.Contains(instant) {
			continue
		}

		ev := master
		start := instant
		end := instant.Add(duration)
		if override, ok := overrideForInstant(overrides, instant); ok {
			ev = override
			start = override.start
			end = override.end
		}

		occurrences = append(occurrences, makeOccurrence(ev, instant, start, end))
	}

	return occurrences, nil
}

// An override replaces the generated occurrence whose instant equals its
// RECURRENCE-ID.
func overrideForInstant(overrides []eventComponent, instant time.Time) (eventComponent, bool) {
	for _, override := range overrides {
		if override.recurrenceID.Equal(instant) {
			return override, true
		}
	}
	return eventComponent{}, false
}

func makeOccurrence(ev eventComponent, instant, start, end time.Time) Occurrence {
	return Occurrence{
		UID:         ev.uid,
		InstanceKey: InstanceKeyFor(instant),
		Title:       ev.summary,
		Description: ev.description,
		Location:    ev.location,
		StartDate:   start.UTC().Unix(),
		EndDate:     end.UTC().Unix(),
		IsWholeDay:  ev.wholeDay,
		Sequence:    ev.sequence,
	}
}
