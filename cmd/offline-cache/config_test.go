package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
origin: https://portfolio.example
appName: lab
version: v3
precache:
  - /
  - /manifest.json
apiEndpoints:
  - https://api.zotero.org
`

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "offline-cache.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestLoadOptionsDefaults(t *testing.T) {
	opts, err := loadOptions("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, defaultOptions(), opts)
}

func TestLoadOptionsFromFile(t *testing.T) {
	opts, err := loadOptions(writeConfig(t, testConfig), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "https://portfolio.example", opts.Origin)
	assert.Equal(t, "lab", opts.AppName)
	assert.Equal(t, "v3", opts.Version)
	assert.Equal(t, []string{"/", "/manifest.json"}, opts.Precache)
	assert.Equal(t, []string{"https://api.zotero.org"}, opts.APIEndpoints)
	// not in the file
	assert.Equal(t, 8080, opts.Port)
	assert.Equal(t, "cache.db", opts.DB)
}

func TestLoadOptionsEnvOverridesFile(t *testing.T) {
	opts, err := loadOptions(writeConfig(t, testConfig), map[string]string{
		"OFFLINE_CACHE_VERSION":       "v4",
		"OFFLINE_CACHE_PORT":          "9090",
		"OFFLINE_CACHE_API_ENDPOINTS": "https://a.example,https://b.example",
		"VERSION":                     "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "v4", opts.Version)
	assert.Equal(t, 9090, opts.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, opts.APIEndpoints)
	assert.Equal(t, "lab", opts.AppName)
}

func TestLoadOptionsErrors(t *testing.T) {
	_, err := loadOptions(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadOptions(writeConfig(t, "origin: [unterminated"), map[string]string{})
	assert.Error(t, err)

	_, err = loadOptions("", map[string]string{"OFFLINE_CACHE_PORT": "eighty"})
	assert.ErrorContains(t, err, "parse env")
}
