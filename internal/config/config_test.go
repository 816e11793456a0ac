package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAPIConfig(t *testing.T) {
	path := writeConfigFile(t, `
debug: true
server:
  port: 9090
database:
  host: localhost
  user: leads
  password: secret
  dbname: leads_db
redis:
  addr: localhost:6379
nats:
  url: nats://localhost:4222
auth:
  api_keys:
    - key-1
reconcile:
  workers: 16
`)

	cfg, err := LoadAPIConfig(path, t.TempDir())

	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, "leads", cfg.NATS.SubjectPrefix)
	assert.Equal(t, []string{"key-1"}, cfg.Auth.APIKeys)
	assert.Equal(t, 16, cfg.Reconcile.Workers)
	assert.Equal(t,
		"host=localhost port=5432 user=leads password=secret dbname=leads_db sslmode=disable",
		cfg.Database.DSN())
}

func TestLoadAPIConfigRequiresDatabase(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
`)

	_, err := LoadAPIConfig(path, t.TempDir())
	assert.ErrorContains(t, err, "database.host is required")
}

func TestLoadAPIConfigFromEnv(t *testing.T) {
	t.Setenv("LEADRECON_DATABASE_HOST", "db.internal")
	t.Setenv("LEADRECON_DATABASE_DBNAME", "leads_db")
	t.Setenv("LEADRECON_SERVER_PORT", "7070")

	cfg, err := LoadAPIConfig("", t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadSweeperConfig(t *testing.T) {
	path := writeConfigFile(t, `
database:
  host: localhost
  dbname: leads_db
geocode:
  base_url: https://nominatim.example.org
sweeper:
  stale_after: 168h
`)

	cfg, err := LoadSweeperConfig(path, t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "https://nominatim.example.org", cfg.Geocode.BaseURL)
	assert.Equal(t, 4, cfg.Geocode.Workers)
	assert.Equal(t, 100, cfg.Geocode.BatchSize)
	assert.Equal(t, "0 6 * * *", cfg.Sweeper.Schedule)
	assert.Equal(t, 7*24*time.Hour, cfg.Sweeper.StaleAfter)
	assert.Equal(t, 5, cfg.Database.MaxOpenConns)
}
