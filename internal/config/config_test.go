package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/transport"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  applicationId: app\n"))
	require.NoError(t, err)

	assert.Equal(t, transport.DefaultBaseURL, cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, blob.KindFile, cfg.Cache.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.Debounce)
	assert.Equal(t, query.DefaultPageSize, cfg.Cache.PageSize)
	assert.Equal(t, query.DefaultLimit, cfg.Cache.DefaultLimit)
	assert.NotEmpty(t, cfg.Cache.Dir)
	assert.Empty(t, cfg.Classes)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  url: https://parse.example.com/1
  applicationId: app
  restKey: rest
  timeout: 5s
  retries: 0
cache:
  dir: /var/cache/app
  backend: bolt
  debounce: 100ms
  pageSize: 500
  defaultLimit: 20
classes:
  Note:
    expireAfter: 1h
  _User:
    expireAfter: 10m
schemaDir: /etc/app/schema
`))
	require.NoError(t, err)

	assert.Equal(t, "https://parse.example.com/1", cfg.Server.URL)
	assert.Equal(t, "rest", cfg.Server.RESTKey)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Zero(t, cfg.Server.Retries)
	assert.Equal(t, blob.KindBolt, cfg.Cache.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.Cache.Debounce)
	assert.Equal(t, 500, cfg.Cache.PageSize)
	assert.Equal(t, 20, cfg.Cache.DefaultLimit)
	assert.Equal(t, time.Hour, cfg.Classes["Note"].ExpireAfter)
	assert.Equal(t, 10*time.Minute, cfg.Classes["_User"].ExpireAfter)
	assert.Equal(t, filepath.Join("/var/cache/app", "cache.db"), cfg.BlobPath())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown field", "server:\n  applicationId: app\n  restkey: typo\n", "restkey"},
		{"missing app id", "cache:\n  backend: memory\n", "server.applicationId is required"},
		{"bad backend", "server:\n  applicationId: app\ncache:\n  backend: redis\n", `unknown backend "redis"`},
		{"page size too large", "server:\n  applicationId: app\ncache:\n  pageSize: 5000\n", "cache.pageSize"},
		{"zero expiry", "server:\n  applicationId: app\nclasses:\n  Note:\n    expireAfter: 0s\n", "classes.Note.expireAfter"},
		{"bad duration", "server:\n  applicationId: app\n  timeout: soon\n", "failed to parse config"},
		{"negative retries", "server:\n  applicationId: app\n  retries: -1\n", "server.retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvApplicationID, "from-env")
	t.Setenv(EnvRESTKey, "env-rest")

	cfg, err := Parse([]byte("server:\n  applicationId: from-file\n  restKey: file-rest\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.ApplicationID)
	assert.Equal(t, "env-rest", cfg.Server.RESTKey)
}

func TestLoad_ResolvesSchemaDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parsekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  applicationId: app\nschemaDir: schema\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schema"), cfg.SchemaDir)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestBlobPath(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = "/tmp/c"
	cfg.Cache.Backend = blob.KindSQLite
	assert.Equal(t, filepath.Join("/tmp/c", "cache.sqlite"), cfg.BlobPath())
	cfg.Cache.Backend = blob.KindFile
	assert.Equal(t, "/tmp/c", cfg.BlobPath())
}
