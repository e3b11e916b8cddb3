package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/reconcilor/internal/account"
)

// Snapshot encodes a scenario result for golden comparison: the trace and
// the end state of both sides, as canonical JSON indented two spaces and
// terminated by a newline. Keys are sorted, so equal results always give
// equal bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		trace[i] = event.Fields()
	}

	remote := make([]any, len(result.Remote))
	for i, s := range result.Remote {
		remote[i] = map[string]any{"id": string(s.ID), "valid": s.Valid}
	}

	snapshot := map[string]any{
		"scenario": name,
		"trace":    trace,
		"local": map[string]any{
			"primary":  string(result.Local.Primary),
			"accounts": idList(result.Local.Accounts),
		},
		"remote": remote,
	}

	data, err := account.MarshalCanonical(snapshot)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not be executed. A snapshot
// mismatch fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
