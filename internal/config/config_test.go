package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
)

var platforms = []access.Platform{"meta", "google"}

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil), platforms)
	require.NoError(t, err)

	assert.Equal(t, DefaultDSN, cfg.DSN)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Empty(t, cfg.PlatformsFile)
	assert.Equal(t, map[access.Platform]Endpoint{"meta": {}, "google": {}}, cfg.Endpoints)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"GRANTLINK_DB":             "postgres://localhost/grantlink",
		"GRANTLINK_PLATFORMS_FILE": "platforms.yaml",
		"GRANTLINK_HTTP_TIMEOUT":   "5s",
		"GRANTLINK_MAX_RETRIES":    "0",
		"GRANTLINK_META_URL":       " https://meta.gateway.test ",
		"GRANTLINK_GOOGLE_TOKEN":   "g-token",
	}), platforms)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/grantlink", cfg.DSN)
	assert.Equal(t, "platforms.yaml", cfg.PlatformsFile)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "https://meta.gateway.test", cfg.Endpoints["meta"].BaseURL)
	assert.Equal(t, "g-token", cfg.Credentials("google").Token)
	assert.True(t, cfg.Credentials("meta").Empty())
}

func TestFromEnv_InvalidValues(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{"GRANTLINK_HTTP_TIMEOUT": "soon"}), platforms)
	assert.ErrorContains(t, err, "GRANTLINK_HTTP_TIMEOUT")

	_, err = FromEnv(envOf(map[string]string{"GRANTLINK_HTTP_TIMEOUT": "-1s"}), platforms)
	assert.Error(t, err)

	_, err = FromEnv(envOf(map[string]string{"GRANTLINK_MAX_RETRIES": "-2"}), platforms)
	assert.ErrorContains(t, err, "GRANTLINK_MAX_RETRIES")
}

func TestLoad_EnvFileFillsGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"GRANTLINK_DB=from-file.db\nGRANTLINK_META_TOKEN=file-token\n# comment\nGRANTLINK_MAX_RETRIES=5\n"), 0o600))

	cfg, err := Load(path, true, envOf(map[string]string{"GRANTLINK_MAX_RETRIES": "1"}), platforms)
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", cfg.DSN)
	assert.Equal(t, "file-token", cfg.Endpoints["meta"].Token)
	assert.Equal(t, 1, cfg.MaxRetries, "process environment wins")
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")

	cfg, err := Load(missing, false, envOf(nil), platforms)
	require.NoError(t, err)
	assert.Equal(t, DefaultDSN, cfg.DSN)

	_, err = Load(missing, true, envOf(nil), platforms)
	assert.ErrorContains(t, err, "failed to load env file")
}

func TestHTTPClientOptions(t *testing.T) {
	cfg := Config{
		HTTPTimeout: 3 * time.Second,
		MaxRetries:  2,
		Endpoints: map[access.Platform]Endpoint{
			"meta":   {BaseURL: "https://meta.gateway.test"},
			"google": {},
		},
	}
	opts := cfg.HTTPClientOptions("grantlink/test")

	assert.Equal(t, map[access.Platform]string{"meta": "https://meta.gateway.test"}, opts.BaseURLs)
	assert.Equal(t, 3*time.Second, opts.HTTPClient.Timeout)
	assert.Equal(t, 2, opts.MaxRetries)
	assert.Equal(t, "grantlink/test", opts.UserAgent)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "GRANTLINK_GOOGLE_URL", EnvKey("google", "URL"))
}
