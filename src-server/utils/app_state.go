package utils

import (
	"database/sql"
	"log/slog"
	"os"
	"sync"

	"davsync/src-server/vault"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type AppState struct {
	Config *Config
	RawDB  *sql.DB
	BunDB  *bun.DB
	Vault  vault.Vault

	// latency/counter channels consumed by the metric package
	MetricChans *Metric

	AppCloseSignalChan chan os.Signal

	gracefulShutdownMutex sync.Mutex
	gracefulShutdownChans []*chan struct{}
}

func NewAppState() *AppState {
	as := &AppState{}

	// env
	as.Config = NewConfig()

	// credential vault
	var err error
	as.Vault, err = vault.NewAESVault(as.Config.GetVaultPassphrase())
	if err != nil {
		slog.Error("cannot init credential vault", "error", err)
		os.Exit(1)
	}

	// database
	as.RawDB, err = sql.Open(sqliteshim.ShimName, as.Config.GetDatabasePath()+"?mode=rwc")
	if err != nil {
		slog.Error("cannot open sqlite database", "error", err)
		os.Exit(1)
	}
	as.RawDB.SetMaxIdleConns(8)

	as.BunDB = bun.NewDB(as.RawDB, sqlitedialect.New())
	as.BunDB.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithVerbose(true),
		bundebug.FromEnv("BUNDEBUG"),
	))

	as.MetricChans = NewMetric()
	as.AppCloseSignalChan = make(chan os.Signal, 1)

	return as
}

// Create a channel that closes when GracefulShutdown is called. Long-lived
// goroutines select on it to unwind before the process exits.
func (as *AppState) CreateGracefulShutdownChan() *chan struct{} {
	as.gracefulShutdownMutex.Lock()
	defer as.gracefulShutdownMutex.Unlock()
	ch := make(chan struct{})
	as.gracefulShutdownChans = append(as.gracefulShutdownChans, &ch)
	return &ch
}

// Close every channel handed out by CreateGracefulShutdownChan.
func (as *AppState) GracefulShutdown() {
	as.gracefulShutdownMutex.Lock()
	defer as.gracefulShutdownMutex.Unlock()
	for _, ch := range as.gracefulShutdownChans {
		close(*ch)
	}
	as.gracefulShutdownChans = nil
}
