// Package config reads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvDBDriver   = "LEDGER_DB_DRIVER"
	EnvDBDSN      = "LEDGER_DB_DSN"
	EnvLogLevel   = "LEDGER_LOG_LEVEL"
	EnvLogFormat  = "LEDGER_LOG_FORMAT"
	EnvBQProject  = "LEDGER_BQ_PROJECT"
	EnvBQDataset  = "LEDGER_BQ_DATASET"
	EnvConfigFile = "LEDGER_ENV_FILE"
)

// Defaults used when a variable is unset.
const (
	DefaultDBDriver  = "sqlite"
	DefaultDBDSN     = "./ledger.db"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
	DefaultBQDataset = "finance"
)

// Config holds the settings shared by the commands.
type Config struct {
	DBDriver  string // sqlite | postgres
	DBDSN     string
	LogLevel  string
	LogFormat string // console | json
	BQProject string
	BQDataset string
}

// Load reads an optional .env file (LEDGER_ENV_FILE or ./.env) and then the
// process environment. A missing .env file is not an error.
func Load() (Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		DBDriver:  valueOr(getenv(EnvDBDriver), DefaultDBDriver),
		DBDSN:     valueOr(getenv(EnvDBDSN), DefaultDBDSN),
		LogLevel:  valueOr(getenv(EnvLogLevel), DefaultLogLevel),
		LogFormat: valueOr(getenv(EnvLogFormat), DefaultLogFormat),
		BQProject: strings.TrimSpace(getenv(EnvBQProject)),
		BQDataset: valueOr(getenv(EnvBQDataset), DefaultBQDataset),
	}
	cfg.DBDriver = strings.ToLower(cfg.DBDriver)

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("config: unsupported %s %q (want sqlite or postgres)", EnvDBDriver, cfg.DBDriver)
	}
	return cfg, nil
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
