package metric

import (
	"log/slog"
	"time"

	"davsync/src-server/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func databaseEmptyRead(as *utils.AppState, tickerInterval *time.Duration) {
	databaseEmptyRead := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "davsync_database_empty_read_microsec",
		Help: "The latency of an empty database read in microseconds",
	})
	good := true
	if err := prometheus.Register(databaseEmptyRead); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register davsync_database_empty_read_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("davsync_database_empty_read_microsec metric registered")
		databaseEmptyRead.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		ticker := time.NewTicker(*tickerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(databaseEmptyRead) {
				case true:
					slog.Debug("davsync_database_empty_read_microsec metric unregistered")
				case false:
					slog.Warn("davsync_database_empty_read_microsec metric not registered")
				}
				return
			case <-ticker.C:
				latency, err := database(as)
				if err != nil {
					slog.Error("can't get database latency", "error", err)
					continue
				}
				databaseEmptyRead.Set(float64(latency.Microseconds()))
			}
		}
	}()
}

func syncRun(as *utils.AppState, clearTickerInterval *time.Duration) {
	syncRun := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "davsync_sync_run_microsec",
		Help: "The latency of the last sync run in microseconds",
	})
	good := true
	if err := prometheus.Register(syncRun); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register davsync_sync_run_microsec metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("davsync_sync_run_microsec metric registered")
		syncRun.Set(0)
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		clearTicker := time.NewTicker(*clearTickerInterval)
		defer clearTicker.Stop()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(syncRun) {
				case true:
					slog.Debug("davsync_sync_run_microsec metric unregistered")
				case false:
					slog.Warn("davsync_sync_run_microsec metric not registered")
				}
				return
			case latency := <-as.MetricChans.SyncRun:
				syncRun.Set(latency)
				clearTicker.Reset(*clearTickerInterval)
			case <-clearTicker.C:
				syncRun.Set(0)
			}
		}
	}()
}

func syncSourcesSucceeded(as *utils.AppState) {
	syncSourcesSucceeded := promauto.NewCounter(prometheus.CounterOpts{
		Name: "davsync_sync_sources_succeeded_total",
		Help: "The total number of calendar sources synced successfully",
	})
	good := true
	if err := prometheus.Register(syncSourcesSucceeded); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register davsync_sync_sources_succeeded_total metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("davsync_sync_sources_succeeded_total metric registered")
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(syncSourcesSucceeded) {
				case true:
					slog.Debug("davsync_sync_sources_succeeded_total metric unregistered")
				case false:
					slog.Warn("davsync_sync_sources_succeeded_total metric not registered")
				}
				return
			case count := <-as.MetricChans.SyncSourcesSucceeded:
				syncSourcesSucceeded.Add(count)
			}
		}
	}()
}

func syncSourcesFailed(as *utils.AppState) {
	syncSourcesFailed := promauto.NewCounter(prometheus.CounterOpts{
		Name: "davsync_sync_sources_failed_total",
		Help: "The total number of calendar sources that failed to sync",
	})
	good := true
	if err := prometheus.Register(syncSourcesFailed); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			slog.Error("can't register davsync_sync_sources_failed_total metric", "error", err)
			good = false
		}
	}
	if good {
		slog.Debug("davsync_sync_sources_failed_total metric registered")
	}
	go func() {
		gracefulShutdownCh := as.CreateGracefulShutdownChan()
		for {
			select {
			case <-*gracefulShutdownCh:
				switch prometheus.Unregister(syncSourcesFailed) {
				case true:
					slog.Debug("davsync_sync_sources_failed_total metric unregistered")
				case false:
					slog.Warn("davsync_sync_sources_failed_total metric not registered")
				}
				return
			case count := <-as.MetricChans.SyncSourcesFailed:
				syncSourcesFailed.Add(count)
			}
		}
	}()
}

func Init(as *utils.AppState) {
	tickerInterval := as.Config.GetMetricCollectionInterval()
	clearTickerInterval := as.Config.GetMetricCollectionInterval() * 2

	databaseEmptyRead(as, &tickerInterval)
	syncRun(as, &clearTickerInterval)
	syncSourcesSucceeded(as)
	syncSourcesFailed(as)
}
