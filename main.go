package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"davsync/src-server/caldav"
	"davsync/src-server/metric"
	"davsync/src-server/model"
	"davsync/src-server/scheduler"
	"davsync/src-server/syncer"
	"davsync/src-server/utils"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Info(err.Error())
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC1123Z,
		}),
	))
}

func main() {
	as := utils.NewAppState()

	if err := model.CreateSchema(as.BunDB); err != nil {
		slog.Error("can't create database schema", "error", err)
		os.Exit(1)
	}

	client := caldav.NewClient(as.Config.GetCaldavTimeout())
	engine := syncer.NewEngine(as.BunDB, client)
	orchestrator := syncer.NewOrchestrator(as.BunDB, engine, as.Vault)

	go metric.Init(as)

	cronRunner, err := scheduler.Start(as, orchestrator)
	if err != nil {
		slog.Error("can't start scheduler", "error", err)
		os.Exit(1)
	}

	// http server
	go func() {
		muxer := http.NewServeMux()
		muxer.Handle("GET /metrics", promhttp.Handler())
		muxer.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(":"+as.Config.GetPort(), muxer); err != nil {
			slog.Error("cannot start HTTP server", "error", err)
			as.AppCloseSignalChan <- syscall.SIGTERM
		}
	}()

	slog.Info("app is now running, press Ctrl+C to exit")

	signal.Notify(as.AppCloseSignalChan, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-as.AppCloseSignalChan
	cronRunner.Stop()
	as.GracefulShutdown()

	slog.Info("Gracefully shutting down...")
}
