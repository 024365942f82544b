package utils

import (
	"log/slog"
	"os"
	"time"
)

type Config struct {
	port string

	databasePath    string
	vaultPassphrase string

	location *time.Location

	syncInterval             time.Duration
	syncHorizon              time.Duration
	caldavTimeout            time.Duration
	metricCollectionInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		port: func() string {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			slog.Debug("env", "PORT", port)
			return port
		}(),

		databasePath: func() string {
			databasePath := os.Getenv("DATABASE_PATH")
			if databasePath == "" {
				slog.Warn("DATABASE_PATH is not set, using ./sqlite.db")
				databasePath = "./sqlite.db"
			}
			slog.Debug("env", "DATABASE_PATH", databasePath)
			return databasePath
		}(),

		vaultPassphrase: func() string {
			vaultPassphrase := os.Getenv("VAULT_PASSPHRASE")
			if vaultPassphrase == "" {
				slog.Error("VAULT_PASSPHRASE is not set")
				os.Exit(1)
			}
			slog.Debug("env", "VAULT_PASSPHRASE", vaultPassphrase[0:3]+"...")
			return vaultPassphrase
		}(),

		location: func() *time.Location {
			timezoneStr := os.Getenv("TIMEZONE")
			var loc *time.Location
			var err error
			switch timezoneStr {
			case "":
				slog.Warn("TIMEZONE is not set, using local timezone", "timezone", time.Local)
				loc = time.Local
			case "UTC":
				loc = time.UTC
			default:
				loc, err = time.LoadLocation(timezoneStr)
				if err != nil {
					slog.Error("invalid timezone", "timezone", timezoneStr, "error", err)
					os.Exit(1)
				}
			}
			slog.Debug("env", "TIMEZONE", timezoneStr)
			return loc
		}(),

		syncInterval: func() time.Duration {
			syncInterval := os.Getenv("SYNC_INTERVAL")
			if syncInterval == "" {
				syncInterval = "30m"
			}
			duration, err := time.ParseDuration(syncInterval)
			if err != nil {
				slog.Error("invalid SYNC_INTERVAL", "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "SYNC_INTERVAL", syncInterval, "duration", duration)
			return duration
		}(),
		syncHorizon: func() time.Duration {
			syncHorizon := os.Getenv("SYNC_HORIZON")
			if syncHorizon == "" {
				syncHorizon = "2160h" // ~3 months ahead
			}
			duration, err := time.ParseDuration(syncHorizon)
			if err != nil {
				slog.Error("invalid SYNC_HORIZON", "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "SYNC_HORIZON", syncHorizon, "duration", duration)
			return duration
		}(),
		caldavTimeout: func() time.Duration {
			caldavTimeout := os.Getenv("CALDAV_TIMEOUT")
			if caldavTimeout == "" {
				caldavTimeout = "30s"
			}
			duration, err := time.ParseDuration(caldavTimeout)
			if err != nil {
				slog.Error("invalid CALDAV_TIMEOUT", "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "CALDAV_TIMEOUT", caldavTimeout, "duration", duration)
			return duration
		}(),
		metricCollectionInterval: func() time.Duration {
			metricCollectionInterval := os.Getenv("METRIC_COLLECTION_INTERVAL")
			if metricCollectionInterval == "" {
				metricCollectionInterval = "60s"
			}
			duration, err := time.ParseDuration(metricCollectionInterval)
			if err != nil {
				slog.Error("invalid METRIC_COLLECTION_INTERVAL", "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "METRIC_COLLECTION_INTERVAL", metricCollectionInterval, "duration", duration)
			return duration
		}(),
	}
}

// Get PORT env, default to 8080
func (c *Config) GetPort() string {
	return c.port
}

// Get DATABASE_PATH env, default to ./sqlite.db
func (c *Config) GetDatabasePath() string {
	return c.databasePath
}

// Get VAULT_PASSPHRASE env
func (c *Config) GetVaultPassphrase() string {
	return c.vaultPassphrase
}

// Get TIMEZONE env
func (c *Config) GetLocation() *time.Location {
	return c.location
}

// Get SYNC_INTERVAL env, default to 30m
func (c *Config) GetSyncInterval() time.Duration {
	return c.syncInterval
}

// Get SYNC_HORIZON env, default to ~3 months
func (c *Config) GetSyncHorizon() time.Duration {
	return c.syncHorizon
}

// Get CALDAV_TIMEOUT env, default to 30s
func (c *Config) GetCaldavTimeout() time.Duration {
	return c.caldavTimeout
}

// Get METRIC_COLLECTION_INTERVAL env, default to 60s
func (c *Config) GetMetricCollectionInterval() time.Duration {
	return c.metricCollectionInterval
}
