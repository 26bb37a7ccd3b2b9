package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(func(string) string { return "" })
	require.NoError(t, err)

	assert.Equal(t, DefaultDBDriver, cfg.DBDriver)
	assert.Equal(t, DefaultDBDSN, cfg.DBDSN)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, DefaultBQDataset, cfg.BQDataset)
	assert.Empty(t, cfg.BQProject)
}

func TestFromEnv_Overrides(t *testing.T) {
	env := map[string]string{
		EnvDBDriver:  " Postgres ",
		EnvDBDSN:     "postgres://ledger@localhost/ledger",
		EnvLogLevel:  "debug",
		EnvBQProject: "my-project",
	}
	cfg, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://ledger@localhost/ledger", cfg.DBDSN)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "my-project", cfg.BQProject)
}

func TestFromEnv_UnsupportedDriver(t *testing.T) {
	_, err := FromEnv(func(k string) string {
		if k == EnvDBDriver {
			return "mysql"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_LOG_FORMAT=json\n"), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvLogFormat, "")
	os.Unsetenv(EnvLogFormat)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "absent.env"))
	_, err := Load()
	assert.NoError(t, err)
}
