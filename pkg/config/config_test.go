package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flakehound/pkg/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NotEmpty(t, cfg.Database.SQLite.Path)
	assert.Equal(t, config.DefaultForgeAPIURL, cfg.Forge.APIURL)
	assert.Equal(t, config.DefaultRequestsPerMinute, cfg.Forge.RequestsPerMinute)
	assert.Equal(t, []string{"*"}, cfg.Fetch.ArtifactGlobs)
	assert.Equal(t, config.DefaultDownloadConcurrency,
		cfg.Fetch.DownloadConcurrency)
	assert.Equal(t, config.DefaultMaxFailureText, cfg.Fetch.MaxFailureText)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	content := `
log_level: debug
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5432
    user: flakehound
    database: flakehound
forge:
  api_url: https://github.example.com/api/v3
  requests_per_minute: 60
fetch:
  artifact_globs:
    - "junit-*"
    - "pytest-*"
  download_concurrency: 4
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, "https://github.example.com/api/v3", cfg.Forge.APIURL)
	assert.Equal(t, 60, cfg.Forge.RequestsPerMinute)
	assert.Equal(t, []string{"junit-*", "pytest-*"}, cfg.Fetch.ArtifactGlobs)
	assert.Equal(t, 4, cfg.Fetch.DownloadConcurrency)

	// Unset fields still pick up defaults.
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, config.DefaultMaxFailureText, cfg.Fetch.MaxFailureText)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [oops"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestValidate_UnsupportedDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestValidate_BadGlob(t *testing.T) {
	cfg := config.Default()
	cfg.Fetch.ArtifactGlobs = []string{"junit-[a"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "junit-[a")
}
