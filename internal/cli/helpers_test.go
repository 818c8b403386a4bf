package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/testutil"
)

// cliEnv runs commands against one database and one fake platform.
type cliEnv struct {
	t    *testing.T
	db   string
	env  map[string]string
	fake *testutil.FakePlatform
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{
		t:  t,
		db: filepath.Join(t.TempDir(), "grantlink.db"),
		env: map[string]string{
			"GRANTLINK_META_TOKEN":   "meta-token",
			"GRANTLINK_GOOGLE_TOKEN": "google-token",
		},
		fake: testutil.NewFakePlatform(),
	}
}

// run executes the root command and returns stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	opts := &RootOptions{
		Getenv: func(key string) string { return e.env[key] },
		Client: e.fake,
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	if e.db != "" {
		args = append([]string{"--db", e.db}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// runJSON runs a command that must succeed and decodes its payload into v.
func (e *cliEnv) runJSON(v any, args ...string) {
	e.t.Helper()
	out, err := e.run(append([]string{"--format", "json"}, args...)...)
	require.NoError(e.t, err, out)

	var resp jsonResponse
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(e.t, "ok", resp.Status)
	if v != nil {
		require.NoError(e.t, json.Unmarshal(resp.Data, v))
	}
}

func (e *cliEnv) resolve(p access.Platform, user string) access.ConnectionResult {
	e.t.Helper()
	var rec access.ConnectionResult
	e.runJSON(&rec, "resolve", "--platform", string(p), "--user", user,
		"--link", "link-L", "--agency", "agency-1", "--access", "manage")
	return rec
}

func (e *cliEnv) show(id string) access.ConnectionResult {
	e.t.Helper()
	var rec access.ConnectionResult
	e.runJSON(&rec, "show", id)
	return rec
}

func jsonUnmarshal(out string, v any) error {
	return json.Unmarshal([]byte(out), v)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func platformName(s string) access.Platform { return access.Platform(s) }
