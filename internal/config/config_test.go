package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{"site": "https://docs.example.org/", "docs_root": "/srv/docs"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.org", cfg.SiteURL())
	assert.Equal(t, "https://docs.example.org", cfg.ManualsURL())
	assert.Equal(t, filepath.Join("/srv/docs", ".search", "index.db"), cfg.IndexPath())
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"site": "https://docs.example.org",
		"docs_root": "/srv/docs",
		"docs_url": "https://manuals.example.org/",
		"index_path": "/var/lib/docsearch/index.db"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://manuals.example.org", cfg.ManualsURL())
	assert.Equal(t, "/var/lib/docsearch/index.db", cfg.IndexFile)
	assert.Equal(t, "/var/lib/docsearch/index.db", cfg.IndexPath())
}

func TestLoadRequiresFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing site", body: `{"docs_root": "/srv/docs"}`, want: "site"},
		{name: "missing docs root", body: `{"site": "https://docs.example.org"}`, want: "docs_root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv("DOCSEARCH_CONFIG_FILE", "/tmp/custom.json")
	assert.Equal(t, "/tmp/custom.json", DefaultPath())

	t.Setenv("DOCSEARCH_CONFIG_FILE", "")
	assert.Equal(t, defaultConfigPath, DefaultPath())
}
