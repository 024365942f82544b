package syncer_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"davsync/src-server/caldav"
	"davsync/src-server/ical"
	"davsync/src-server/model"
	"davsync/src-server/syncer"
	"davsync/src-server/vault"

	goical "github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// fakeTransport serves canned calendar objects per endpoint url and counts
// every fetch.
type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	objects map[string][]caldav.RemoteObject
	errs    map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		objects: make(map[string][]caldav.RemoteObject),
		errs:    make(map[string]error),
	}
}

func (f *fakeTransport) FetchObjects(ctx context.Context, endpointURL string, creds caldav.Credentials, from, to time.Time) ([]caldav.RemoteObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[endpointURL]; ok {
		return nil, err
	}
	return f.objects[endpointURL], nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func decodeCalendar(t *testing.T, lines ...string) *goical.Calendar {
	t.Helper()
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//davsync//test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR")
	cal, err := goical.NewDecoder(strings.NewReader(strings.Join(all, "\r\n") + "\r\n")).Decode()
	if err != nil {
		t.Fatal(err)
	}
	return cal
}

type testEnv struct {
	bundb        *bun.DB
	transport    *fakeTransport
	engine       *syncer.Engine
	orchestrator *syncer.Orchestrator
	vault        vault.Vault
}

func newTestEnv(t *testing.T) *testEnv {
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

	testVault, err := vault.NewAESVault("test-passphrase")
	if err != nil {
		t.Fatal(err)
	}
	transport := newFakeTransport()
	engine := syncer.NewEngine(bundb, transport)
	return &testEnv{
		bundb:        bundb,
		transport:    transport,
		engine:       engine,
		orchestrator: syncer.NewOrchestrator(bundb, engine, testVault),
		vault:        testVault,
	}
}

// addSource inserts a source row directly, credentials already encrypted.
func (env *testEnv) addSource(t *testing.T, userID, endpointURL string) string {
	t.Helper()
	usernameEnc, err := env.vault.Encrypt("alice")
	if err != nil {
		t.Fatal(err)
	}
	passwordEnc, err := env.vault.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	sourceModel := model.CalendarSource{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        "Test Source",
		Url:         endpointURL,
		UsernameEnc: usernameEnc,
		PasswordEnc: passwordEnc,
		CreatedAt:   time.Now().UTC().Unix(),
	}
	if err := sourceModel.Upsert(context.Background(), env.bundb); err != nil {
		t.Fatal(err)
	}
	return sourceModel.ID
}

func januaryWindow() ical.Window {
	return ical.Window{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestSyncOneCreatesAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	endpointURL := "https://dav.example.com/alice/"
	sourceID := env.addSource(t, "user-a", endpointURL)
	env.transport.objects[endpointURL] = []caldav.RemoteObject{
		{Path: "/alice/standup.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:standup@test",
			"SUMMARY:Standup",
			"DTSTART:20250106T090000Z",
			"END:VEVENT",
		)},
		{Path: "/alice/retro.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:retro@test",
			"SUMMARY:Retro",
			"DTSTART:20250103T150000Z",
			"RRULE:FREQ=WEEKLY",
			"END:VEVENT",
		)},
	}

	// case: first run materializes the window
	result, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 3 || result.Updated != 0 || result.Deleted != 0 || result.Skipped != 0 {
		t.Error("wrong first-run result", result)
	}

	// case: an unchanged remote yields a no-op run
	result, err = env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 0 || result.Updated != 0 || result.Deleted != 0 || result.Skipped != 0 {
		t.Error("second run must be a no-op", result)
	}

	if env.transport.callCount() != 2 {
		t.Error("expected one fetch per run", env.transport.callCount())
	}
}

func TestSyncOneDeletionByAbsenceIsWindowScoped(t *testing.T) {
	env := newTestEnv(t)
	endpointURL := "https://dav.example.com/alice/"
	sourceID := env.addSource(t, "user-a", endpointURL)

	// a row outside the sync window must survive deletion by absence
	outsideModel := model.Occurrence{
		SourceID:    sourceID,
		UID:         "outside@test",
		InstanceKey: "1740000000",
		Title:       "Outside the window",
		StartDate:   time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC).Unix(),
	}
	if err := outsideModel.Upsert(context.Background(), env.bundb); err != nil {
		t.Fatal(err)
	}

	env.transport.objects[endpointURL] = []caldav.RemoteObject{
		{Path: "/alice/a.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:a@test",
			"SUMMARY:First",
			"DTSTART:20250106T090000Z",
			"END:VEVENT",
		)},
		{Path: "/alice/b.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:b@test",
			"SUMMARY:Second",
			"DTSTART:20250107T090000Z",
			"END:VEVENT",
		)},
	}
	if _, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil); err != nil {
		t.Fatal(err)
	}

	// case: b disappears from the remote, only b's row goes away
	env.transport.objects[endpointURL] = env.transport.objects[endpointURL][:1]
	result, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 1 {
		t.Error("expected one deletion", result)
	}

	count, err := env.bundb.NewSelect().
		Model((*model.Occurrence)(nil)).
		Where("source_id = ?", sourceID).
		Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// a@test inside the window plus the untouched row outside it
	if count != 2 {
		t.Error("deletion leaked outside the window", count)
	}
}

func TestSyncOneSequenceMonotonicity(t *testing.T) {
	env := newTestEnv(t)
	endpointURL := "https://dav.example.com/alice/"
	sourceID := env.addSource(t, "user-a", endpointURL)

	env.transport.objects[endpointURL] = []caldav.RemoteObject{
		{Path: "/alice/a.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:a@test",
			"SUMMARY:Third revision",
			"DTSTART:20250106T090000Z",
			"SEQUENCE:3",
			"END:VEVENT",
		)},
	}
	if _, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil); err != nil {
		t.Fatal(err)
	}

	// case: a stale lower-sequence delivery changes nothing
	env.transport.objects[endpointURL] = []caldav.RemoteObject{
		{Path: "/alice/a.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:a@test",
			"SUMMARY:First revision",
			"DTSTART:20250106T090000Z",
			"SEQUENCE:1",
			"END:VEVENT",
		)},
	}
	result, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 0 || result.Updated != 0 || result.Deleted != 0 {
		t.Error("stale delivery must be a no-op", result)
	}

	stored := new(model.Occurrence)
	if err := env.bundb.NewSelect().
		Model(stored).
		Where("source_id = ?", sourceID).
		Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stored.Title != "Third revision" || stored.Sequence != 3 {
		t.Error("stale delivery overwrote the row", stored.Title, stored.Sequence)
	}
}

func TestSyncOneSkipsUnparsableObject(t *testing.T) {
	env := newTestEnv(t)
	endpointURL := "https://dav.example.com/alice/"
	sourceID := env.addSource(t, "user-a", endpointURL)

	env.transport.objects[endpointURL] = []caldav.RemoteObject{
		{Path: "/alice/broken.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:broken@test",
			"SUMMARY:No start",
			"END:VEVENT",
		)},
		{Path: "/alice/good.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:good@test",
			"SUMMARY:Fine",
			"DTSTART:20250106T090000Z",
			"END:VEVENT",
		)},
	}

	result, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Skipped != 1 || result.Created != 1 {
		t.Error("broken object must not sink the collection", result)
	}
}

func TestSyncOneForbiddenBeforeTransport(t *testing.T) {
	env := newTestEnv(t)
	endpointURL := "https://dav.example.com/alice/"
	sourceID := env.addSource(t, "user-a", endpointURL)

	_, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-b", januaryWindow(), nil)
	if err != syncer.ErrForbidden {
		t.Error("expected ErrForbidden, got", err)
	}
	if env.transport.callCount() != 0 {
		t.Error("ownership must be checked before any network traffic", env.transport.callCount())
	}

	// case: unknown source id
	if _, err := env.orchestrator.SyncOne(context.Background(), uuid.NewString(), "user-a", januaryWindow(), nil); err != syncer.ErrSourceNotFound {
		t.Error("expected ErrSourceNotFound, got", err)
	}
}

func TestSyncOneStageLog(t *testing.T) {
	env := newTestEnv(t)
	endpointURL := "https://dav.example.com/alice/"
	sourceID := env.addSource(t, "user-a", endpointURL)
	env.transport.objects[endpointURL] = []caldav.RemoteObject{
		{Path: "/alice/a.ics", Data: decodeCalendar(t,
			"BEGIN:VEVENT",
			"UID:a@test",
			"SUMMARY:Logged",
			"DTSTART:20250106T090000Z",
			"END:VEVENT",
		)},
	}

	collectingLogger := &syncer.CollectingLogger{}
	if _, err := env.orchestrator.SyncOne(context.Background(), sourceID, "user-a", januaryWindow(), collectingLogger); err != nil {
		t.Fatal(err)
	}

	entries := collectingLogger.Entries()
	if len(entries) == 0 {
		t.Fatal("expected log entries")
	}
	wantOrder := []syncer.Stage{
		syncer.StageFetching,
		syncer.StageParsing,
		syncer.StageDiffing,
		syncer.StageApplying,
	}
	next := 0
	for _, entry := range entries {
		for next < len(wantOrder) && entry.Stage == wantOrder[next] {
			next++
		}
	}
	if next != len(wantOrder) {
		t.Error("stages out of order", entries)
	}
}

func TestSyncAllIsolation(t *testing.T) {
	env := newTestEnv(t)

	goodURL1 := "https://dav.example.com/one/"
	badURL := "https://dav.example.com/two/"
	goodURL2 := "https://dav.example.com/three/"
	env.addSource(t, "user-a", goodURL1)
	badID := env.addSource(t, "user-a", badURL)
	env.addSource(t, "user-a", goodURL2)

	event := func(uid string) []caldav.RemoteObject {
		return []caldav.RemoteObject{
			{Path: "/" + uid + ".ics", Data: decodeCalendar(t,
				"BEGIN:VEVENT",
				"UID:"+uid+"@test",
				"SUMMARY:Event",
				"DTSTART:20250106T090000Z",
				"END:VEVENT",
			)},
		}
	}
	env.transport.objects[goodURL1] = event("one")
	env.transport.objects[goodURL2] = event("three")
	env.transport.errs[badURL] = &caldav.NetworkError{Err: context.DeadlineExceeded}

	summary, err := env.orchestrator.SyncAll(context.Background(), "user-a", januaryWindow())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Error("one failing source must not sink its siblings", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].SourceID != badID {
		t.Error("wrong failure attribution", summary.Failures)
	}

	count, err := env.bundb.NewSelect().
		Model((*model.Occurrence)(nil)).
		Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Error("healthy sources should have synced", count)
	}
}
