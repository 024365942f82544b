// Package scheduler drives the periodic background refresh of every
// calendar source in the database.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"davsync/src-server/ical"
	"davsync/src-server/model"
	"davsync/src-server/syncer"
	"davsync/src-server/utils"

	"github.com/robfig/cron/v3"
)

// Start schedules a recurring sync of every user's sources and kicks off
// one run immediately. The returned cron can be stopped for shutdown.
func Start(as *utils.AppState, orchestrator *syncer.Orchestrator) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(as.Config.GetLocation()))
	schedule := fmt.Sprintf("@every %s", as.Config.GetSyncInterval())
	if _, err := c.AddFunc(schedule, func() {
		runAll(as, orchestrator)
	}); err != nil {
		return nil, fmt.Errorf("scheduler.Start: can't schedule sync job: %w", err)
	}
	c.Start()
	go runAll(as, orchestrator)
	return c, nil
}

func runAll(as *utils.AppState, orchestrator *syncer.Orchestrator) {
	start := time.Now()

	var userIDs []string
	if err := as.BunDB.NewSelect().
		Model((*model.CalendarSource)(nil)).
		ColumnExpr("DISTINCT user_id").
		Scan(context.Background(), &userIDs); err != nil {
		slog.Error("scheduler: can't list users with sources", "error", err)
		return
	}
	if len(userIDs) == 0 {
		return
	}

	now := time.Now().UTC()
	window := ical.Window{
		Start: now.Truncate(24 * time.Hour),
		End:   now.Truncate(24 * time.Hour).Add(as.Config.GetSyncHorizon()),
	}

	var succeeded, failed int
	for _, userID := range userIDs {
		summary, err := orchestrator.SyncAll(context.Background(), userID, window)
		if err != nil {
			slog.Warn("scheduler: sync run failed", "userID", userID, "error", err)
			continue
		}
		succeeded += summary.Succeeded
		failed += summary.Failed
	}

	as.MetricChans.SyncRun <- float64(time.Since(start).Microseconds())
	if succeeded > 0 {
		as.MetricChans.SyncSourcesSucceeded <- float64(succeeded)
	}
	if failed > 0 {
		as.MetricChans.SyncSourcesFailed <- float64(failed)
	}

	slog.Info("scheduler: sync run finished",
		"users", len(userIDs),
		"succeeded", succeeded,
		"failed", failed,
		"took", time.Since(start))
}
