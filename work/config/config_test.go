package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"baseURL": "http://media.local:9000",
		"listenPort": 9000,
		"databasePath": "/tmp/kmedia-test.db",
		"workerThreads": 4,
		"cacheEnabled": true,
		"cacheDuration": "2m",
		"probeTimeout": "15s",
		"probesPerSec": 3,
		"providerCall": "10s",
		"pathSubstitutions": [{"from": "/mnt/media", "to": "/media"}],
		"providers": [
			{"name": "panel", "type": "xtream", "url": "http://panel", "username": "u", "password": "p"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("KMEDIA_CONFIG", path)
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	assert.Equal(t, "http://media.local:9000", cfg.BaseURL)
	assert.Equal(t, 9000, cfg.ListenPort)
	assert.Equal(t, 2*time.Minute, cfg.CacheDuration)
	assert.Equal(t, 15*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.ProviderCall)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "panel", cfg.Providers[0].Name)
	assert.Equal(t, 5, cfg.Providers[0].RequestsPerSecond, "missing provider rate limit gets a default")

	// the singleton returns the same instance until cleared
	assert.Same(t, cfg, LoadConfig())
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("KMEDIA_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.json"))
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	assert.Equal(t, 8080, cfg.ListenPort)
	assert.NotZero(t, cfg.WorkerThreads)
	assert.NotZero(t, cfg.ProbeTimeout)
}

func TestSubstitutePath(t *testing.T) {
	cfg := &Config{PathSubstitutions: []PathSubstitution{
		{From: "/mnt/media", To: "/media"},
		{From: "\\\\nas\\share", To: "/nas"},
	}}

	assert.Equal(t, "/media/movie.mkv", cfg.SubstitutePath("/mnt/media/movie.mkv"))
	assert.Equal(t, "/untouched/movie.mkv", cfg.SubstitutePath("/untouched/movie.mkv"))
}

func TestCreateExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	t.Setenv("KMEDIA_CONFIG", path)
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	assert.NotEmpty(t, cfg.Providers, "the example ships with sample providers")
	assert.NotZero(t, cfg.CacheDuration)
}
