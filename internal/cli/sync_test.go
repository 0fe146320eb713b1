package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const syncManifestCUE = `
space: home: {
	provider: "sqlite"
	path:     "home.db"
}

space: scratch: {
	provider: "none"
}
`

const syncSchemaManifestCUE = `
space: home: {
	provider: "sqlite"
	path:     "home.db"
	schema: {
		type: "object"
		properties: {
			tags: {
				type:   "array"
				"ifc.classification": ["confidential"]
			}
		}
	}
}
`

func TestSync_WritesThroughFullPipeline(t *testing.T) {
	dir := writeManifestDir(t, syncManifestCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewSyncCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir, "home", "entity-1", "status", `"closed"`})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSync_RootWrite(t *testing.T) {
	dir := writeManifestDir(t, syncManifestCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewSyncCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir, "home", "entity-2", "", `{"status": "open"}`})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSync_UnknownSpace(t *testing.T) {
	dir := writeManifestDir(t, syncManifestCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewSyncCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir, "nonexistent", "entity-1", "status", `"closed"`})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSync_SchemaClassifiedArrayShrink(t *testing.T) {
	dir := writeManifestDir(t, syncSchemaManifestCUE)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewSyncCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{dir, "home", "entity-3", "tags", `["a", "b", "c"]`})
	require.NoError(t, cmd.Execute())

	buf.Reset()
	cmd2 := NewSyncCommand(rootOpts)
	cmd2.SetOut(buf)
	cmd2.SetErr(buf)
	cmd2.SetArgs([]string{dir, "home", "entity-3", "tags", `["a"]`})
	err := cmd2.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSync_HelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewSyncCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "manifest-configured sync pipeline")
}
