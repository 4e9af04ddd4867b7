package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lobj/internal/canon"
)

// TraceSnapshot is the golden form of a run: the scenario name and every
// trace event, rendered as canonical JSON.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	events := make([]any, 0, len(s.Trace))
	for _, ev := range s.Trace {
		events = append(events, ev.canonical())
	}
	return canon.Marshal(map[string]any{"scenario_name": s.ScenarioName, "trace": events})
}

// Snapshot returns the golden snapshot of a run.
func Snapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{ScenarioName: name, Trace: result.Trace}
}

// RunWithGolden runs scenario and compares its trace with
// testdata/golden/<name>.golden, failing t on a mismatch. Pass -update to
// go test to rewrite the golden files.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	snapshot := Snapshot(scenarioName, result)
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}
	goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	).Assert(t, scenarioName, data)
	return nil
}
