// The `syncer` package reconciles remote CalDAV calendars against the local
// occurrence cache: fetch, parse, diff, then apply per source, all or nothing.
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"davsync/src-server/caldav"
	"davsync/src-server/ical"
	"davsync/src-server/model"

	"github.com/uptrace/bun"
)

// Transport is the slice of the CalDAV client the engine needs. Tests swap
// in a fake to count calls and inject failures.
type Transport interface {
	FetchObjects(ctx context.Context, endpointURL string, creds caldav.Credentials, from, to time.Time) ([]caldav.RemoteObject, error)
}

var _ Transport = (*caldav.Client)(nil)

// Result summarizes what one reconciliation run changed.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	// Skipped counts remote objects dropped because their payload didn't
	// parse; the rest of the collection still synced.
	Skipped int `json:"skipped"`
}

// Engine reconciles one source's remote collection against the local cache.
type Engine struct {
	db        *bun.DB
	transport Transport
}

func NewEngine(db *bun.DB, transport Transport) *Engine {
	return &Engine{
		db:        db,
		transport: transport,
	}
}

// Reconcile runs the Fetching -> Parsing -> Diffing -> Applying pipeline for
// one source and window. The apply phase commits in a single transaction:
// either the window is fully reconciled or nothing changed. Deletion is by
// absence and scoped to the fetched window only.
//
// The ownership check runs before any network call; a mismatch fails with
// ErrForbidden.
func (e *Engine) Reconcile(ctx context.Context, sourceID, expectedUserID string, creds caldav.Credentials, w ical.Window, lg RunLogger) (Result, error) {
	w = w.Clamped()
	if !w.Valid() {
		return Result{}, fmt.Errorf("(*Engine).Reconcile: window end must be after window start")
	}
	if lg == nil {
		lg = NopLogger{}
	}

	sourceModel, err := model.FindSource(ctx, e.db, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("(*Engine).Reconcile: %w", err)
	}
	if sourceModel == nil {
		return Result{}, ErrSourceNotFound
	}
	if sourceModel.UserID != expectedUserID {
		return Result{}, ErrForbidden
	}

	// fetch
	lg.Log(StageFetching, "querying remote collection",
		"url", sourceModel.Url,
		"window_start", w.Start,
		"window_end", w.End)
	objects, err := e.transport.FetchObjects(ctx, sourceModel.Url, creds, w.Start, w.End)
	if err != nil {
		return Result{}, fmt.Errorf("(*Engine).Reconcile: can't fetch remote objects: %w", err)
	}
	lg.Log(StageFetching, "remote collection fetched", "objects", len(objects))

	// parse
	result := Result{}
	desired := make(map[string]ical.Occurrence)
	for _, object := range objects {
		occurrences, err := ical.ExpandCalendar(object.Data, w)
		if err != nil {
			// one broken object must not sink the rest of the collection
			result.Skipped++
			lg.Log(StageParsing, "skipping unparsable object", "path", object.Path, "error", err.Error())
			slog.Warn("skipping unparsable calendar object",
				"source_id", sourceID,
				"path", object.Path,
				"error", err)
			continue
		}
		for _, occurrence := range occurrences {
			key := occurrence.UID + "|" + occurrence.InstanceKey
			if existing, ok := desired[key]; ok && existing.Sequence > occurrence.Sequence {
				continue
			}
			desired[key] = occurrence
		}
	}
	lg.Log(StageParsing, "remote objects expanded",
		"occurrences", len(desired),
		"skipped_objects", result.Skipped)

	// diff
	existingModels, err := model.OccurrencesInWindow(ctx, e.db, sourceID, w.Start.Unix(), w.End.Unix())
	if err != nil {
		return Result{}, fmt.Errorf("(*Engine).Reconcile: %w", err)
	}
	existing := make(map[string]model.Occurrence, len(existingModels))
	for _, occurrenceModel := range existingModels {
		existing[occurrenceModel.CompositeKey()] = occurrenceModel
	}

	keepKeys := make([]string, 0, len(desired))
	upserts := make([]model.Occurrence, 0)
	now := time.Now().UTC().Unix()
	for key, occurrence := range desired {
		keepKeys = append(keepKeys, key)

		existingModel, exists := existing[key]
		switch {
		case !exists:
			result.Created++
		case occurrence.Sequence < existingModel.Sequence:
			// stale delivery, keep the stored fields
			continue
		case occurrence.Sequence == existingModel.Sequence && !payloadDiffers(existingModel, occurrence):
			continue
		default:
			result.Updated++
		}

		upserts = append(upserts, model.Occurrence{
			SourceID:    sourceID,
			UID:         occurrence.UID,
			InstanceKey: occurrence.InstanceKey,
			Title:       occurrence.Title,
			Description: occurrence.Description,
			Location:    occurrence.Location,
			StartDate:   occurrence.StartDate,
			EndDate:     occurrence.EndDate,
			IsWholeDay:  occurrence.IsWholeDay,
			Sequence:    occurrence.Sequence,
			SyncedAt:    now,
		})
	}
	sort.Slice(upserts, func(i, j int) bool {
		if upserts[i].StartDate != upserts[j].StartDate {
			return upserts[i].StartDate < upserts[j].StartDate
		}
		return upserts[i].UID < upserts[j].UID
	})

	deletions := 0
	for key := range existing {
		if _, ok := desired[key]; !ok {
			deletions++
		}
	}
	lg.Log(StageDiffing, "diff computed",
		"create", result.Created,
		"update", result.Updated,
		"delete", deletions)

	// apply, all or nothing
	if err := e.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for i := range upserts {
			if err := upserts[i].Upsert(ctx, tx); err != nil {
				return err
			}
		}
		deleted, err := model.DeleteOccurrencesNotIn(ctx, tx, sourceID, w.Start.Unix(), w.End.Unix(), keepKeys)
		if err != nil {
			return err
		}
		result.Deleted = int(deleted)
		return nil
	}); err != nil {
		return Result{}, fmt.Errorf("(*Engine).Reconcile: can't apply changes: %w", err)
	}
	lg.Log(StageApplying, "changes committed",
		"created", result.Created,
		"updated", result.Updated,
		"deleted", result.Deleted)

	return result, nil
}

func payloadDiffers(stored model.Occurrence, incoming ical.Occurrence) bool {
	switch {
	case stored.Title != incoming.Title:
		return true
	case stored.Description != incoming.Description:
		return true
	case stored.Location != incoming.Location:
		return true
	case stored.StartDate != incoming.StartDate:
		return true
	case stored.EndDate != incoming.EndDate:
		return true
	case stored.IsWholeDay != incoming.IsWholeDay:
		return true
	default:
		return false
	}
}
