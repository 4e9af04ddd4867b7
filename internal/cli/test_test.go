package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioPass = `name: begin_only
description: "one begin"
steps:
  - op: begin
    expect: { object: obj-1 }
`

const scenarioFail = `name: wrong_id
description: "expects the wrong id"
steps:
  - op: begin
    expect: { object: obj-9 }
`

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	dir := writeScenarios(t, nil)

	out, err := runTestCommand(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	dir := writeScenarios(t, nil)

	out, err := runTestCommand(t, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandRepositoryScenarios(t *testing.T) {
	out, err := runTestCommand(t, "text", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ hello_parallel")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"begin_only.yaml": scenarioPass,
		"wrong_id.yaml":   scenarioFail,
	})

	out, err := runTestCommand(t, "text", dir, "--filter", "begin*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailureJSON(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"begin_only.yaml": scenarioPass,
		"wrong_id.yaml":   scenarioFail,
	})

	out, err := runTestCommand(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "SCENARIO_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"broken.yaml": "name: broken\n"})

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "Load error")
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"begin_only.yaml": scenarioPass})
	golden := filepath.Join(t.TempDir(), "golden")

	out, err := runTestCommand(t, "text", dir, "--update", "--golden-dir", golden)
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	data, err := os.ReadFile(filepath.Join(golden, "begin_only.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"begin_only"`)

	_, err = runTestCommand(t, "text", dir, "--golden-dir", golden)
	require.NoError(t, err)

	// A stale golden file fails the comparison.
	require.NoError(t, os.WriteFile(filepath.Join(golden, "begin_only.golden"), []byte("{}"), 0644))
	out, err = runTestCommand(t, "text", dir, "--golden-dir", golden)
	require.Error(t, err)
	assert.Contains(t, out, "Golden file mismatch")
}

func TestTestCommandDefaultGoldenDir(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"begin_only.yaml": scenarioPass})

	_, err := runTestCommand(t, "text", dir, "--update")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "golden", "begin_only.golden"))
	require.NoError(t, err)
}
