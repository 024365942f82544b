package model_test

import (
	"context"
	"database/sql"
	"testing"

	"davsync/src-server/model"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// every pooled connection gets its own :memory: database
	db.SetMaxOpenConns(1)
	bundb := bun.NewDB(db, sqlitedialect.New())
	if err := model.CreateSchema(bundb); err != nil {
		t.Fatal(err)
	}
	return bundb
}

func TestCalendarSource(t *testing.T) {
	bundb := newTestDB(t)

	sourceModel := model.CalendarSource{
		ID:          uuid.NewString(),
		UserID:      "user-a",
		Name:        "Team Calendar",
		Url:         "https://dav.example.com/calendars/team/",
		UsernameEnc: "enc-username",
		PasswordEnc: "enc-password",
		CreatedAt:   1,
	}
	if err := sourceModel.Upsert(context.Background(), bundb); err != nil {
		t.Error(err)
	}

	// case: upsert with the same id updates instead of duplicating
	func() {
		sourceModel.Name = "Renamed Calendar"
		if err := sourceModel.Upsert(context.Background(), bundb); err != nil {
			t.Error(err)
		}
		count, err := bundb.NewSelect().
			Model((*model.CalendarSource)(nil)).
			Count(context.Background())
		if err != nil {
			t.Error(err)
		}
		if count != 1 {
			t.Error("expected one source row", count)
		}
		found, err := model.FindSource(context.Background(), bundb, sourceModel.ID)
		if err != nil {
			t.Error(err)
		}
		if found == nil || found.Name != "Renamed Calendar" {
			t.Error("update not applied")
		}
	}()

	// case: invalid url rejected
	func() {
		badModel := sourceModel
		badModel.ID = uuid.NewString()
		badModel.Url = "not a url"
		if err := badModel.Upsert(context.Background(), bundb); err == nil {
			t.Error("expected an invalid url error")
		}
	}()

	// case: missing source resolves to nil without error
	func() {
		found, err := model.FindSource(context.Background(), bundb, uuid.NewString())
		if err != nil {
			t.Error(err)
		}
		if found != nil {
			t.Error("expected nil for a missing source")
		}
	}()

	// case: listing is scoped to the user and ordered by creation
	func() {
		otherModel := model.CalendarSource{
			ID:        uuid.NewString(),
			UserID:    "user-b",
			Name:      "Other",
			Url:       "https://dav.example.com/calendars/other/",
			CreatedAt: 2,
		}
		if err := otherModel.Upsert(context.Background(), bundb); err != nil {
			t.Error(err)
		}
		sourceModels, err := model.ListSourcesForUser(context.Background(), bundb, "user-a")
		if err != nil {
			t.Error(err)
		}
		if len(sourceModels) != 1 || sourceModels[0].ID != sourceModel.ID {
			t.Error("listing leaked across users", sourceModels)
		}
	}()

	// case: deleting a source cascades to its occurrences
	func() {
		occurrenceModel := model.Occurrence{
			SourceID:    sourceModel.ID,
			UID:         "event@test",
			InstanceKey: "1736154000",
			Title:       "Standup",
			StartDate:   1736154000,
			EndDate:     1736155800,
		}
		if err := occurrenceModel.Upsert(context.Background(), bundb); err != nil {
			t.Error(err)
		}
		if _, err := bundb.NewDelete().
			Model((*model.CalendarSource)(nil)).
			Where("id = ?", sourceModel.ID).
			Exec(context.WithValue(context.Background(), model.DeletedSourceIDsCtxKey, sourceModel.ID)); err != nil {
			t.Error(err)
		}
		count, err := bundb.NewSelect().
			Model((*model.Occurrence)(nil)).
			Where("source_id = ?", sourceModel.ID).
			Count(context.Background())
		if err != nil {
			t.Error(err)
		}
		if count != 0 {
			t.Error("occurrences should be gone with their source", count)
		}
	}()
}
