package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"weekly_stats.json":                 `{"week":42}`,
		"holdings.json":                     `[{"symbol":"MSTR"}]`,
		"summary.json":                      `{"total":1}`,
		"complete_historical_baseline.json": `{"weeks":[]}`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewCompositionRoot_FilesystemUpstream(t *testing.T) {
	dataDir := writeDataDir(t)
	configPath := writeConfig(t, fmt.Sprintf(`
upstream:
  kind: fs
  dir: %s
metrics:
  enabled: true
log:
  level: warn
`, dataDir))

	root, err := NewCompositionRoot(configPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Cleanup() })

	require.NoError(t, root.Preloader.Run(context.Background(), false))
	for _, p := range root.Config.Preload.Paths {
		_, ok := root.Client.Cached(p, root.Client.Defaults())
		assert.True(t, ok, "expected %s to be preloaded", p)
	}

	router := root.HTTPServer.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data/weekly_stats.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "datafetch_requests_total")
}

func TestNewCompositionRoot_BigCacheBackend(t *testing.T) {
	dataDir := writeDataDir(t)
	configPath := writeConfig(t, fmt.Sprintf(`
upstream:
  dir: %s
cache:
  backend: bigcache
  bigcache:
    shards: 16
`, dataDir))

	root, err := NewCompositionRoot(configPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Cleanup() })

	require.NotNil(t, root.Store)
	res, err := root.Client.Fetch(context.Background(), "summary.json", root.Client.Defaults())
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":1}`, string(res.Data))
	assert.Equal(t, 1, root.Store.Len())
}

func TestNewCompositionRoot_HTTPUpstream(t *testing.T) {
	configPath := writeConfig(t, `
upstream:
  kind: http
  base_url: https://example.com/data
  rate_limit:
    tokens: 5
    refill: 200ms
  circuit_breaker:
    enabled: true
`)

	root, err := NewCompositionRoot(configPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Cleanup() })

	assert.NotNil(t, root.Fetcher)
	assert.Nil(t, root.Store)
	assert.True(t, root.Client.IsValid())
}

func TestNewCompositionRoot_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"missing data dir", "upstream:\n  kind: fs\n  dir: /nonexistent/dashgate-data\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"unreachable redis scheme", "cache:\n  backend: redis\n  redis:\n    url: http://localhost:6379\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCompositionRoot(writeConfig(t, tt.config))
			assert.Error(t, err)
		})
	}
}

func TestNewCompositionRoot_MissingConfigFile(t *testing.T) {
	_, err := NewCompositionRoot(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
