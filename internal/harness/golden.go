package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/grantlink/internal/access"
)

// GoldenDir is where RunWithGolden looks for golden files, relative to the
// test's package directory.
const GoldenDir = "testdata/scenarios/golden"

// Snapshot renders the trace and final records of a run as canonical JSON.
// Identical runs produce identical bytes.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"session": ev.Session,
			"result":  ev.Result,
		}
		if ev.RecordID != "" {
			m["record_id"] = ev.RecordID
		}
		if ev.State != "" {
			m["state"] = ev.State
		}
		if ev.ExpectedLevel != "" {
			m["expected_level"] = ev.ExpectedLevel
		}
		if ev.ActualLevel != "" {
			m["actual_level"] = ev.ActualLevel
		}
		if ev.Cycle > 0 {
			m["cycle"] = ev.Cycle
		}
		trace[i] = m
	}

	records := make([]any, len(result.Records))
	for i, r := range result.Records {
		records[i] = r.CanonicalMap()
	}

	return access.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"records":       records,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// GoldenDir/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...RunOption) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
