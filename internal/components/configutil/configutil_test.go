package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Url     string            `json:"url"`
	Lang    string            `json:"lang"`
	Timeout int               `json:"timeout_seconds"`
	Headers map[string]string `json:"headers"`
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "pmaexport.json5")

	err := os.WriteFile(name, []byte(`{
		// comments are allowed
		url: "http://console.internal/phpmyadmin",
		lang: "ja",
		timeout_seconds: 30,
	}`), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "pmaexport.local.json5"), []byte(`{
		lang: "en",
		headers: {"x-test": "1"},
	}`), 0644)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](name)
	require.NoError(t, err)
	require.Equal(t, testConfig{
		Url:     "http://console.internal/phpmyadmin",
		Lang:    "en",
		Timeout: 30,
		Headers: map[string]string{"x-test": "1"},
	}, cfg)
}

func TestReadConfigOnlyLocal(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "pmaexport.local.json5"), []byte(`{lang: "de"}`), 0644)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "pmaexport.json5"))
	require.NoError(t, err)
	require.Equal(t, "de", cfg.Lang)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "pmaexport.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalName(t *testing.T) {
	require.Equal(t, "a/b/config.local.json5", localName("a/b/config.json5"))
	require.Equal(t, "config.local", localName("config"))
}
