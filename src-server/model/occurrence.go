package model

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// One synced event instance. The composite key (source_id, uid,
// instance_key) is what makes re-syncing the same window idempotent.
type Occurrence struct {
	bun.BaseModel `bun:"table:occurrences"`

	SourceID    string `bun:"source_id,pk"`    // required
	UID         string `bun:"uid,pk"`          // required
	InstanceKey string `bun:"instance_key,pk"` // required
	Title       string `bun:"title,notnull"`   // required
	Description string `bun:"description"`
	Location    string `bun:"location"`
	StartDate   int64  `bun:"start_date,notnull"` // unix UTC, required
	EndDate     int64  `bun:"end_date"`           // unix UTC
	IsWholeDay  bool   `bun:"is_whole_day"`
	Sequence    int    `bun:"sequence"`
	SyncedAt    int64  `bun:"synced_at"` // unix UTC
}

// Upsert writes the occurrence, overwriting an existing row only when the
// incoming sequence is greater or equal (protects against out-of-order
// delivery).
func (o *Occurrence) Upsert(ctx context.Context, db bun.IDB) error {
	if db == nil {
		return fmt.Errorf("(*Occurrence).Upsert: db is nil")
	}

	// validate
	switch {
	case o.SourceID == "":
		return fmt.Errorf("(*Occurrence).Upsert: source id is blank")
	case o.UID == "":
		return fmt.Errorf("(*Occurrence).Upsert: uid is blank")
	case o.InstanceKey == "":
		return fmt.Errorf("(*Occurrence).Upsert: instance key is blank")
	case o.Title == "":
		return fmt.Errorf("(*Occurrence).Upsert: title is blank")
	case o.StartDate == 0:
		return fmt.Errorf("(*Occurrence).Upsert: start date is required")
	case o.EndDate != 0 && o.StartDate > o.EndDate:
		return fmt.Errorf("(*Occurrence).Upsert: start date must be before end date")
	case o.Sequence < 0:
		return fmt.Errorf("(*Occurrence).Upsert: sequence must be non-negative")
	}

	// upsert
	if _, err := db.NewInsert().
		Model(o).
		On("CONFLICT (source_id, uid, instance_key) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("location = EXCLUDED.location").
		Set("start_date = EXCLUDED.start_date").
		Set("end_date = EXCLUDED.end_date").
		Set("is_whole_day = EXCLUDED.is_whole_day").
		Set("sequence = EXCLUDED.sequence").
		Set("synced_at = EXCLUDED.synced_at").
		Where("EXCLUDED.sequence >= occurrence.sequence").
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Occurrence).Upsert: can't upsert occurrence: %w", err)
	}

	return nil
}

// CompositeKey identifies one occurrence inside its source.
func (o *Occurrence) CompositeKey() string {
	return o.UID + "|" + o.InstanceKey
}

// OccurrencesInWindow returns a source's stored occurrences whose start
// falls inside [startUnix, endUnix).
func OccurrencesInWindow(ctx context.Context, db bun.IDB, sourceID string, startUnix, endUnix int64) ([]Occurrence, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("OccurrencesInWindow: source id is blank")
	}

	occurrenceModels := make([]Occurrence, 0)
	if err := db.NewSelect().
		Model(&occurrenceModels).
		Where("source_id = ?", sourceID).
		Where("start_date >= ?", startUnix).
		Where("start_date < ?", endUnix).
		Order("start_date ASC").
		Order("uid ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("OccurrencesInWindow: can't get occurrences: %w", err)
	}
	return occurrenceModels, nil
}

// DeleteOccurrencesNotIn removes a source's occurrences inside the window
// whose composite key is absent from keepKeys. This is the sole mechanism
// for detecting remote deletions, so it must stay scoped to the window that
// was actually fetched.
func DeleteOccurrencesNotIn(ctx context.Context, db bun.IDB, sourceID string, startUnix, endUnix int64, keepKeys []string) (int64, error) {
	if sourceID == "" {
		return 0, fmt.Errorf("DeleteOccurrencesNotIn: source id is blank")
	}

	query := db.NewDelete().
		Model((*Occurrence)(nil)).
		Where("source_id = ?", sourceID).
		Where("start_date >= ?", startUnix).
		Where("start_date < ?", endUnix)
	if len(keepKeys) > 0 {
		query = query.Where("(uid || '|' || instance_key) NOT IN (?)", bun.In(keepKeys))
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("DeleteOccurrencesNotIn: can't delete occurrences: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteOccurrencesNotIn: can't count deleted occurrences: %w", err)
	}
	return deleted, nil
}

// DeleteAllForSource removes every occurrence a source produced.
func DeleteAllForSource(ctx context.Context, db bun.IDB, sourceID string) error {
	if sourceID == "" {
		return fmt.Errorf("DeleteAllForSource: source id is blank")
	}

	if _, err := db.NewDelete().
		Model((*Occurrence)(nil)).
		Where("source_id = ?", sourceID).
		Exec(ctx); err != nil {
		return fmt.Errorf("DeleteAllForSource: can't delete occurrences: %w", err)
	}
	return nil
}
