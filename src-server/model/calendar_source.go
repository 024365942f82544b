package model

import (
	"context"
	"fmt"
	"net/url"

	"github.com/uptrace/bun"
)

type DeletedSourceIDsCtxKeyType string

const DeletedSourceIDsCtxKey DeletedSourceIDsCtxKeyType = "source-id"

// One external calendar a user connected. Credentials are vault ciphertext;
// plaintext never touches this model.
type CalendarSource struct {
	bun.BaseModel `bun:"table:calendar_sources"`

	ID          string `bun:"id,pk"`            // required
	UserID      string `bun:"user_id,notnull"`  // required
	Name        string `bun:"name,notnull"`     // required
	Color       string `bun:"color"`
	Url         string `bun:"url,notnull"`      // required
	UsernameEnc string `bun:"username_enc"`
	PasswordEnc string `bun:"password_enc"`
	CreatedAt   int64  `bun:"created_at,notnull"`

	Occurrences []*Occurrence `bun:"rel:has-many,join:id=source_id"`
}

var _ bun.AfterDeleteHook = (*CalendarSource)(nil)

// Deleting a source cascades removal of every occurrence it produced. The
// deleted ids travel through the context since bun's delete hook can't see
// which rows matched.
func (s *CalendarSource) AfterDelete(ctx context.Context, query *bun.DeleteQuery) error {
	if query.DB() == nil {
		return fmt.Errorf("(*CalendarSource).AfterDelete: db is nil")
	}

	deletedSourceIDs := make([]string, 0)
	switch deletedSourceID := ctx.Value(DeletedSourceIDsCtxKey).(type) {
	case string:
		if deletedSourceID == "" {
			return fmt.Errorf("(*CalendarSource).AfterDelete: deletedSourceID is blank")
		}
		deletedSourceIDs = append(deletedSourceIDs, deletedSourceID)
	case []string:
		if len(deletedSourceID) == 0 {
			return nil
		}
		deletedSourceIDs = append(deletedSourceIDs, deletedSourceID...)
	case nil:
		return fmt.Errorf("(*CalendarSource).AfterDelete: source id is nil")
	default:
		return fmt.Errorf("(*CalendarSource).AfterDelete: wrong deletedSourceID type | type=%T", deletedSourceID)
	}

	if _, err := query.DB().NewDelete().
		Model((*Occurrence)(nil)).
		Where("source_id IN (?)", bun.In(deletedSourceIDs)).
		Exec(ctx); err != nil {
		return fmt.Errorf("(*CalendarSource).AfterDelete: can't delete occurrences: %w", err)
	}

	return nil
}

func (s *CalendarSource) Upsert(ctx context.Context, db bun.IDB) error {
	if db == nil {
		return fmt.Errorf("(*CalendarSource).Upsert: db is nil")
	}

	// validate
	switch {
	case s.ID == "":
		return fmt.Errorf("(*CalendarSource).Upsert: source id is blank")
	case s.UserID == "":
		return fmt.Errorf("(*CalendarSource).Upsert: user id is blank")
	case s.Name == "":
		return fmt.Errorf("(*CalendarSource).Upsert: source name is blank")
	case s.Url == "":
		return fmt.Errorf("(*CalendarSource).Upsert: source url is blank")
	case s.CreatedAt == 0:
		return fmt.Errorf("(*CalendarSource).Upsert: created at is required")
	}
	if _, err := url.ParseRequestURI(s.Url); err != nil {
		return fmt.Errorf("(*CalendarSource).Upsert: source url is invalid: %w", err)
	}

	// upsert
	if _, err := db.NewInsert().
		Model(s).
		On("CONFLICT (id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("name = EXCLUDED.name").
		Set("color = EXCLUDED.color").
		Set("url = EXCLUDED.url").
		Set("username_enc = EXCLUDED.username_enc").
		Set("password_enc = EXCLUDED.password_enc").
		Exec(ctx); err != nil {
		return fmt.Errorf("(*CalendarSource).Upsert: can't upsert source: %w", err)
	}

	return nil
}

// FindSource returns nil without error when the id doesn't exist.
func FindSource(ctx context.Context, db bun.IDB, id string) (*CalendarSource, error) {
	if id == "" {
		return nil, fmt.Errorf("FindSource: source id is blank")
	}

	exists, err := db.NewSelect().
		Model((*CalendarSource)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindSource: can't check if source exists: %w", err)
	}
	if !exists {
		return nil, nil
	}

	sourceModel := new(CalendarSource)
	if err := db.NewSelect().
		Model(sourceModel).
		Where("id = ?", id).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("FindSource: can't get source: %w", err)
	}
	return sourceModel, nil
}

func ListSourcesForUser(ctx context.Context, db bun.IDB, userID string) ([]CalendarSource, error) {
	if userID == "" {
		return nil, fmt.Errorf("ListSourcesForUser: user id is blank")
	}

	sourceModels := make([]CalendarSource, 0)
	if err := db.NewSelect().
		Model(&sourceModels).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("ListSourcesForUser: can't list sources: %w", err)
	}
	return sourceModels, nil
}
