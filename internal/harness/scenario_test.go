package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario"
owner: u1
online: false
page_size: 50
steps:
  - put: { kind: session, id: s1, payload: { sets: 3 } }
  - online: true
  - sync: true
  - expect_remote: { kind: workout_sessions, count: 1 }
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "u1", scenario.Owner)
	require.NotNil(t, scenario.Online)
	assert.False(t, *scenario.Online)
	assert.Equal(t, 50, scenario.PageSize)
	require.Len(t, scenario.Steps, 4)
	require.NotNil(t, scenario.Steps[0].Put)
	assert.Equal(t, "s1", scenario.Steps[0].Put.ID)
	assert.Equal(t, 3, scenario.Steps[0].Put.Payload["sets"])
	assert.True(t, scenario.Steps[2].Sync)
	assert.Equal(t, 1, scenario.Steps[3].ExpectRemote.Count)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
steps:
  - synk: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "steps:\n  - sync: true\n",
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			yaml:    "name: empty\n",
			wantErr: "at least one step",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: x\nsteps:\n  - sync: true\n    show_calls: true\n",
			wantErr: "step 1: exactly one action per step, got 2",
		},
		{
			name:    "empty step",
			yaml:    "name: x\nsteps:\n  - {}\n",
			wantErr: "exactly one action per step, got 0",
		},
		{
			name:    "unknown kind",
			yaml:    "name: x\nsteps:\n  - put: { kind: exercise, id: a }\n",
			wantErr: `unknown entity kind "exercise"`,
		},
		{
			name:    "missing id",
			yaml:    "name: x\nsteps:\n  - delete: { kind: session }\n",
			wantErr: "id is required",
		},
		{
			name:    "empty owner",
			yaml:    "name: x\nsteps:\n  - owner: \"\"\n",
			wantErr: "use signout",
		},
		{
			name:    "non-positive seed",
			yaml:    "name: x\nsteps:\n  - remote_seed: { kind: session, count: 0 }\n",
			wantErr: "count must be positive",
		},
		{
			name:    "negative page size",
			yaml:    "name: x\npage_size: -1\nsteps:\n  - sync: true\n",
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
