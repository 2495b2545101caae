package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseURL string `json:"base_url"`
	Workers int    `json:"workers"`
	Store   struct {
		Path string `json:"path"`
	} `json:"store"`
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestReadConfigSingleLayer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "harvester.json5"), `{
		// comments are allowed
		base_url: "https://console.example.com",
		workers: 4,
	}`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "harvester.json5"))
	require.NoError(t, err)
	require.Equal(t, "https://console.example.com", config.BaseURL)
	require.Equal(t, 4, config.Workers)
}

func TestReadConfigLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "harvester.json5"), `{
		base_url: "https://console.example.com",
		workers: 4,
		store: { path: "records.db" },
	}`)
	writeFile(t, filepath.Join(dir, "harvester.local.json5"), `{
		base_url: "http://localhost:8080",
	}`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "harvester.json5"))
	require.NoError(t, err)

	// the local layer wins where it says something
	require.Equal(t, "http://localhost:8080", config.BaseURL)
	// and everything else survives from the base layer
	require.Equal(t, 4, config.Workers)
	require.Equal(t, "records.db", config.Store.Path)
}

func TestReadConfigLocalOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "harvester.local.json5"), `{ workers: 2 }`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "harvester.json5"))
	require.NoError(t, err)
	require.Equal(t, 2, config.Workers)
}

func TestReadConfigMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadConfig[testConfig](filepath.Join(dir, "harvester.json5"))
	require.True(t, os.IsNotExist(err))
}
