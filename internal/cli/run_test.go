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

func writeRunScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const cascadeScenarioYAML = `
name: cascade
description: "writing reviewers triggers the reviewer count action"
space: did:example
actions:
  - name: reviewerCount
    entity: proposal
    path: [reviewers]
setup:
  - entity: proposal
    path: []
    value: { status: open, reviewers: [] }
flow:
  - entity: proposal
    path: [reviewers]
    value: [alice]
assertions:
  - type: triggered
    action: reviewerCount
    count: 1
`

const failingScenarioYAML = `
name: mismatch
description: "final_state assertion deliberately fails"
space: did:example
flow:
  - entity: note
    path: [test]
    value: t1
assertions:
  - type: final_state
    entity: note
    path: [test]
    expect: wrong
`

func TestRun_PassingScenarioExitsZero(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeRunScenario(t, tmpDir, cascadeScenarioYAML)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRun_FailingAssertionExitsWithFailureCode(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeRunScenario(t, tmpDir, failingScenarioYAML)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRun_MissingScenarioFileExitsWithCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"/nonexistent/scenario.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_TextFormatPrintsPassResult(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeRunScenario(t, tmpDir, cascadeScenarioYAML)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "true")
}

func TestRun_HelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Execute a harness scenario file")
	assert.Contains(t, output, "scenario-file")
}
