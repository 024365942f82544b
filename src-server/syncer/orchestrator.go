package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"davsync/src-server/caldav"
	"davsync/src-server/ical"
	"davsync/src-server/model"
	"davsync/src-server/vault"

	"github.com/uptrace/bun"
)

const workerCount = 4

// Summary aggregates a multi-source run. Per-source errors never escape as
// the function's error; they land in Failures.
type Summary struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Total     int             `json:"total"`
	Failures  []SourceFailure `json:"failures,omitempty"`
}

type SourceFailure struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

// Orchestrator drives reconciliation runs: one source on demand, or every
// source a user owns. It serializes concurrent runs per source so two
// interleaved diff/apply phases can't corrupt delete-by-absence.
type Orchestrator struct {
	db     *bun.DB
	engine *Engine
	vault  vault.Vault

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

func NewOrchestrator(db *bun.DB, engine *Engine, v vault.Vault) *Orchestrator {
	return &Orchestrator{
		db:          db,
		engine:      engine,
		vault:       v,
		sourceLocks: make(map[string]*sync.Mutex),
	}
}

// lockSource serializes runs for one source id. Runs for different sources
// stay concurrent; their data is disjoint.
func (o *Orchestrator) lockSource(sourceID string) func() {
	o.mu.Lock()
	lock, ok := o.sourceLocks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		o.sourceLocks[sourceID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// SyncOne decrypts the source's credentials and runs one reconciliation.
// The plaintext credentials live only for the duration of the call.
func (o *Orchestrator) SyncOne(ctx context.Context, sourceID, expectedUserID string, w ical.Window, lg RunLogger) (Result, error) {
	unlock := o.lockSource(sourceID)
	defer unlock()

	sourceModel, err := model.FindSource(ctx, o.db, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("(*Orchestrator).SyncOne: %w", err)
	}
	if sourceModel == nil {
		return Result{}, ErrSourceNotFound
	}
	if sourceModel.UserID != expectedUserID {
		return Result{}, ErrForbidden
	}

	creds, err := o.decryptCredentials(sourceModel)
	if err != nil {
		return Result{}, fmt.Errorf("(*Orchestrator).SyncOne: %w", err)
	}

	return o.engine.Reconcile(ctx, sourceID, expectedUserID, creds, w, lg)
}

// SyncAll reconciles every source the user owns. Sources are fanned out to a
// small worker pool and always settle independently: one source's failure is
// recorded and never aborts its siblings.
func (o *Orchestrator) SyncAll(ctx context.Context, userID string, w ical.Window) (Summary, error) {
	sourceModels, err := model.ListSourcesForUser(ctx, o.db, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("(*Orchestrator).SyncAll: %w", err)
	}

	summary := Summary{Total: len(sourceModels)}
	if len(sourceModels) == 0 {
		return summary, nil
	}

	jobs := make(chan model.CalendarSource, len(sourceModels))
	var wg sync.WaitGroup
	var summaryMu sync.Mutex

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sourceModel := range jobs {
				startTimer := time.Now()
				_, err := o.SyncOne(ctx, sourceModel.ID, userID, w, NopLogger{})

				summaryMu.Lock()
				switch {
				case err != nil:
					summary.Failed++
					summary.Failures = append(summary.Failures, SourceFailure{
						SourceID: sourceModel.ID,
						Error:    err.Error(),
					})
				default:
					summary.Succeeded++
				}
				summaryMu.Unlock()

				if err != nil {
					slog.Warn("source sync failed",
						"source_id", sourceModel.ID,
						"user_id", userID,
						"took", time.Since(startTimer),
						"error", err)
					continue
				}
				slog.Debug("source sync done",
					"source_id", sourceModel.ID,
					"user_id", userID,
					"took", time.Since(startTimer))
			}
		}()
	}

	for _, sourceModel := range sourceModels {
		jobs <- sourceModel
	}
	close(jobs)
	wg.Wait()

	return summary, nil
}

func (o *Orchestrator) decryptCredentials(sourceModel *model.CalendarSource) (caldav.Credentials, error) {
	username, err := o.vault.Decrypt(sourceModel.UsernameEnc)
	if err != nil {
		return caldav.Credentials{}, fmt.Errorf("can't decrypt username: %w", err)
	}
	password, err := o.vault.Decrypt(sourceModel.PasswordEnc)
	if err != nil {
		return caldav.Credentials{}, fmt.Errorf("can't decrypt password: %w", err)
	}
	return caldav.Credentials{
		Username: username,
		Password: password,
	}, nil
}
