package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ShouldApplyDefaultsWithoutFile(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "missing.yaml")

	// when
	config, err := LoadConfig(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.Server.Address)
	assert.Equal(t, "sqlite3", config.Database.Driver)
	assert.Equal(t, "local", config.Storage.ChunkBackend)
	assert.Equal(t, 3, config.Upload.MaxActiveSessions)
	assert.True(t, config.Upload.EnforceSessionLimit)
	assert.Equal(t, int64(2*1024*1024), config.Upload.ChunkSizeBytes)
	assert.Equal(t, time.Hour, config.GC.ResumptionTimeout)
	assert.Equal(t, 24*time.Hour, config.GC.Retention)
}

func TestLoadConfig_ShouldReadYAMLFile(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9090"
storage:
  shared_root: /srv/share
upload:
  max_active_sessions: 5
  enforce_session_limit: false
gc:
  resumption_timeout: 30m
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// when
	config, err := LoadConfig(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, ":9090", config.Server.Address)
	assert.Equal(t, "/srv/share", config.Storage.SharedRoot)
	assert.Equal(t, 5, config.Upload.MaxActiveSessions)
	assert.False(t, config.Upload.EnforceSessionLimit)
	assert.Equal(t, 30*time.Minute, config.GC.ResumptionTimeout)
	assert.Equal(t, "debug", config.Log.Level)
}

func TestLoadConfig_ShouldPreferEnvironment(t *testing.T) {
	// given
	t.Setenv("LANSHARE_UPLOAD_MAX_ACTIVE_SESSIONS", "7")
	t.Setenv("LANSHARE_DATABASE_DRIVER", "postgres")

	// when
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	// then
	require.NoError(t, err)
	assert.Equal(t, 7, config.Upload.MaxActiveSessions)
	assert.Equal(t, "postgres", config.Database.Driver)
}

func TestLoadConfig_ShouldRejectInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"LANSHARE_DATABASE_DRIVER": "mysql"}},
		{name: "unknown backend", env: map[string]string{"LANSHARE_STORAGE_CHUNK_BACKEND": "ftp"}},
		{name: "no sessions", env: map[string]string{"LANSHARE_UPLOAD_MAX_ACTIVE_SESSIONS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

			assert.Error(t, err)
		})
	}
}
