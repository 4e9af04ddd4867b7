package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Payloads(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: payloads
description: every payload form
steps:
  - op: append
    object: obj-1
    data: "plain"
  - op: append
    object: obj-1
    data: { hex: "00ff" }
  - op: append
    object: obj-1
    data: { repeat: { byte: 65, count: 3 } }
  - op: append
    object: obj-1
    data: { random: { size: 16, seed: 1 } }
`))
	require.NoError(t, err)
	require.Len(t, scenario.Steps, 4)

	want := [][]byte{[]byte("plain"), {0x00, 0xff}, []byte("AAA")}
	for i, w := range want {
		got, err := scenario.Steps[i].Data.Bytes()
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}

	random, err := scenario.Steps[3].Data.Bytes()
	require.NoError(t, err)
	assert.Len(t, random, 16)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: y\nsteps: [{op: begin}]\nstep: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: y\nsteps: [{op: begin}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsteps: [{op: begin}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: y\n",
			want: "steps list is required",
		},
		{
			name: "unknown op",
			yaml: "name: x\ndescription: y\nsteps: [{op: upload}]\n",
			want: `unknown op "upload"`,
		},
		{
			name: "insert without ordinal",
			yaml: "name: x\ndescription: y\nsteps: [{op: insert, object: a, data: z}]\n",
			want: "ordinal is required for insert",
		},
		{
			name: "consolidate without expected",
			yaml: "name: x\ndescription: y\nsteps: [{op: consolidate, object: a}]\n",
			want: "expected is required for consolidate",
		},
		{
			name: "append without object",
			yaml: "name: x\ndescription: y\nsteps: [{op: append, data: z}]\n",
			want: "object is required for append",
		},
		{
			name: "two payload forms",
			yaml: "name: x\ndescription: y\nsteps: [{op: append, object: a, data: {text: t, hex: \"00\"}}]\n",
			want: "only one of",
		},
		{
			name: "corrupt outside restart",
			yaml: "name: x\ndescription: y\nsteps: [{op: begin, corrupt: [a]}]\n",
			want: "corrupt is only valid for restart",
		},
		{
			name: "expect_data outside finalize",
			yaml: "name: x\ndescription: y\nsteps: [{op: begin, expect_data: a}]\n",
			want: "expect_data is only valid for finalize",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: y\nsteps: [{op: begin}]\nassertions: [{type: final_bytes}]\n",
			want: `unknown assertion type "final_bytes"`,
		},
		{
			name: "trace_order without ops",
			yaml: "name: x\ndescription: y\nsteps: [{op: begin}]\nassertions: [{type: trace_order}]\n",
			want: "ops list is required",
		},
		{
			name: "final_state without key",
			yaml: "name: x\ndescription: y\nsteps: [{op: begin}]\nassertions: [{type: final_state}]\n",
			want: "key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\ndescription: d\nsteps:\n  - op: begin\n"), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "s", scenario.Name)
	assert.Equal(t, OpBegin, scenario.Steps[0].Op)
}
