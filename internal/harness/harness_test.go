package harness

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestRun_ScenarioC_MergesRecords(t *testing.T) {
	result, err := Run(load(t, "scenario_c_merge"))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, map[access.Platform]string{"meta": "userA", "google": "userB"}, rec.PlatformUserIDs)
	assert.Len(t, rec.GrantedAccesses["google"], 2)

	require.Len(t, result.Trace, 7)
	assert.Equal(t, "rec-2", result.Trace[3].RecordID)
	assert.Equal(t, "rec-1", result.Trace[6].RecordID)
}

func TestRun_ScenarioD_IncorrectAccess(t *testing.T) {
	result, err := Run(load(t, "scenario_d_incorrect_access"))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	ev := result.Trace[1]
	assert.Equal(t, "incorrect_access", ev.State)
	assert.Equal(t, "owner", ev.ExpectedLevel)
	assert.Equal(t, "restricted", ev.ActualLevel)
}

func TestRun_ExpectedErrorIsAPass(t *testing.T) {
	result, err := Run(load(t, "merge_conflict"))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "CONFLICT_ON_MERGE", result.Trace[3].Result)
	assert.Len(t, result.Records, 2)
}

func TestRun_UnmetExpectationsFail(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: every expectation here is wrong
link: link-L
agency: agency-1
ids: [rec-1]
credentials: [meta]
steps:
  - {op: resolve, session: a, platform: meta, user: userA, access: manage, expect: {error: NOT_FOUND}}
  - {op: verify, session: a, service: pixel, entity: px-1, access: view, identity: agency-42, expect: {state: granted}}
  - {op: attach, session: nobody, platform: google, user: userB}
assertions:
  - {type: record_count, count: 3}
  - {type: record_absent, record: rec-1}
  - {type: identity, record: rec-1, platform: meta, user: userZ}
  - {type: no_access, record: rec-1, platform: meta, service: pixel, entity: px-9}
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "expected error NOT_FOUND, got ok")
	assert.Contains(t, result.Errors[1], "expected state granted, got not_granted")
	assert.Contains(t, result.Errors[2], "unexpected error")
	assert.Contains(t, result.Errors[3], "record_count")
}

func TestRun_RunningOutOfIDsIsAnError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: no_ids
description: creates a record without declaring an id
link: link-L
agency: agency-1
steps:
  - {op: resolve, session: a, platform: meta, user: userA, access: manage}
`))
	require.NoError(t, err)

	_, err = Run(s)
	assert.ErrorContains(t, err, "ids exhausted")
}

func TestRun_IsDeterministic(t *testing.T) {
	s := load(t, "verify_repeat_granted")
	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := Run(load(t, "scenario_a_first_authentication"), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "created connection record")
	assert.Contains(t, buf.String(), "scenario step completed")
}
