package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"davsync/src-server/ical"
	"davsync/src-server/model"
	"davsync/src-server/utils"

	"github.com/google/uuid"
)

const initialSyncTimeout = 2 * time.Minute

type CreateSourceInput struct {
	UserID   string
	Name     string
	Color    string
	Url      string
	Username string
	Password string
}

// A calendar source with credentials redacted: the username is decrypted
// for display, the password never leaves the vault.
type SourceView struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Url       string `json:"url"`
	Username  string `json:"username,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// CreateSource persists a new source and kicks off a best-effort initial
// sync in the background. The create succeeds even when that first sync
// fails; a later manual or scheduled sync can recover.
func (o *Orchestrator) CreateSource(ctx context.Context, input CreateSourceInput) (*model.CalendarSource, error) {
	switch {
	case input.UserID == "":
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: user id is blank")
	case input.Name == "":
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: name is blank")
	case input.Url == "":
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: url is blank")
	}
	if _, err := url.ParseRequestURI(input.Url); err != nil {
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: url is invalid: %w", err)
	}

	usernameEnc, err := o.vault.Encrypt(input.Username)
	if err != nil {
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: can't encrypt username: %w", err)
	}
	passwordEnc, err := o.vault.Encrypt(input.Password)
	if err != nil {
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: can't encrypt password: %w", err)
	}

	sourceModel := &model.CalendarSource{
		ID:          uuid.NewString(),
		UserID:      input.UserID,
		Name:        utils.CleanupString(input.Name),
		Color:       input.Color,
		Url:         input.Url,
		UsernameEnc: usernameEnc,
		PasswordEnc: passwordEnc,
		CreatedAt:   time.Now().UTC().Unix(),
	}
	if err := sourceModel.Upsert(ctx, o.db); err != nil {
		return nil, fmt.Errorf("(*Orchestrator).CreateSource: %w", err)
	}

	// best-effort initial sync; its outcome is observable through logs only
	// and never through this call's success
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), initialSyncTimeout)
		defer cancel()
		if _, err := o.SyncOne(bgCtx, sourceModel.ID, sourceModel.UserID, ical.AllTime(), NopLogger{}); err != nil {
			slog.Warn("initial sync failed",
				"source_id", sourceModel.ID,
				"user_id", sourceModel.UserID,
				"error", err)
		}
	}()

	return sourceModel, nil
}

// ListSources returns the user's sources, credentials redacted.
func (o *Orchestrator) ListSources(ctx context.Context, userID string) ([]SourceView, error) {
	sourceModels, err := model.ListSourcesForUser(ctx, o.db, userID)
	if err != nil {
		return nil, fmt.Errorf("(*Orchestrator).ListSources: %w", err)
	}

	views := make([]SourceView, 0, len(sourceModels))
	for _, sourceModel := range sourceModels {
		username, err := o.vault.Decrypt(sourceModel.UsernameEnc)
		if err != nil {
			return nil, fmt.Errorf("(*Orchestrator).ListSources: can't decrypt username: %w", err)
		}
		views = append(views, SourceView{
			ID:        sourceModel.ID,
			UserID:    sourceModel.UserID,
			Name:      sourceModel.Name,
			Color:     sourceModel.Color,
			Url:       sourceModel.Url,
			Username:  username,
			CreatedAt: sourceModel.CreatedAt,
		})
	}
	return views, nil
}

// DeleteSource removes a source and, through the model's delete hook, every
// occurrence it produced.
func (o *Orchestrator) DeleteSource(ctx context.Context, sourceID, expectedUserID string) error {
	unlock := o.lockSource(sourceID)
	defer unlock()

	sourceModel, err := model.FindSource(ctx, o.db, sourceID)
	if err != nil {
		return fmt.Errorf("(*Orchestrator).DeleteSource: %w", err)
	}
	if sourceModel == nil {
		return ErrSourceNotFound
	}
	if sourceModel.UserID != expectedUserID {
		return ErrForbidden
	}

	if _, err := o.db.NewDelete().
		Model((*model.CalendarSource)(nil)).
		Where("id = ?", sourceID).
		Exec(context.WithValue(ctx, model.DeletedSourceIDsCtxKey, sourceID)); err != nil {
		return fmt.Errorf("(*Orchestrator).DeleteSource: can't delete source: %w", err)
	}

	return nil
}
