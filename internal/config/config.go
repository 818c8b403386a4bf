// Package config resolves grantlink settings from an env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

const (
	// DefaultEnvFile is read when no env file is named explicitly.
	DefaultEnvFile = ".env"

	DefaultDSN         = "grantlink.db"
	DefaultHTTPTimeout = 20 * time.Second
	DefaultMaxRetries  = 3

	prefix = "GRANTLINK_"
)

// Endpoint is the gateway address and client credential of one platform.
type Endpoint struct {
	BaseURL string
	Token   string
}

// Config holds resolved settings.
type Config struct {
	DSN           string
	PlatformsFile string
	HTTPTimeout   time.Duration
	MaxRetries    int
	Endpoints     map[access.Platform]Endpoint
}

// Load reads envFile, if any, and resolves settings for the given
// platforms. Process environment values win over file values. A missing
// envFile is an error only when explicit is set.
func Load(envFile string, explicit bool, getenv func(string) string, platforms []access.Platform) (Config, error) {
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVals = vals
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	return FromEnv(func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fileVals[key]
	}, platforms)
}

// FromEnv resolves settings through getenv.
func FromEnv(getenv func(string) string, platforms []access.Platform) (Config, error) {
	cfg := Config{
		DSN:           DefaultDSN,
		PlatformsFile: strings.TrimSpace(getenv(prefix + "PLATFORMS_FILE")),
		HTTPTimeout:   DefaultHTTPTimeout,
		MaxRetries:    DefaultMaxRetries,
		Endpoints:     make(map[access.Platform]Endpoint, len(platforms)),
	}
	if v := strings.TrimSpace(getenv(prefix + "DB")); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(getenv(prefix + "HTTP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%sHTTP_TIMEOUT: invalid duration %q", prefix, v)
		}
		cfg.HTTPTimeout = d
	}
	if v := strings.TrimSpace(getenv(prefix + "MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%sMAX_RETRIES: invalid count %q", prefix, v)
		}
		cfg.MaxRetries = n
	}
	for _, p := range platforms {
		cfg.Endpoints[p] = Endpoint{
			BaseURL: strings.TrimSpace(getenv(EnvKey(p, "URL"))),
			Token:   strings.TrimSpace(getenv(EnvKey(p, "TOKEN"))),
		}
	}
	return cfg, nil
}

// EnvKey returns the variable name of a per-platform setting,
// e.g. GRANTLINK_META_URL.
func EnvKey(p access.Platform, suffix string) string {
	return prefix + strings.ToUpper(string(p)) + "_" + suffix
}

// Credentials returns the configured credential of p.
func (c Config) Credentials(p access.Platform) platform.Credentials {
	return platform.Credentials{Token: c.Endpoints[p].Token}
}

// HTTPClientOptions builds platform client options from the settings.
func (c Config) HTTPClientOptions(userAgent string) platform.HTTPClientOptions {
	urls := make(map[access.Platform]string, len(c.Endpoints))
	for p, ep := range c.Endpoints {
		if ep.BaseURL != "" {
			urls[p] = ep.BaseURL
		}
	}
	return platform.HTTPClientOptions{
		BaseURLs:   urls,
		HTTPClient: &http.Client{Timeout: c.HTTPTimeout},
		UserAgent:  userAgent,
		MaxRetries: c.MaxRetries,
	}
}
