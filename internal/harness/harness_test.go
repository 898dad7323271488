package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with the matching golden file.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name and scenario name must match")
			assert.NotEmpty(t, scenario.Description)

			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

// TestScenariosReplay checks that running the same scenario twice yields
// identical traces.
func TestScenariosReplay(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/push_failure_halts_batch.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FailedExpectationIsReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
owner: u1
steps:
  - put: { kind: session, id: s1 }
  - expect_pending: 2
  - expect_local: { kind: session, count: 1 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 2: assertion failed: expect_pending")
	assert.Contains(t, result.Errors[0], "Expected: 2")
	assert.Contains(t, result.Errors[0], "Actual: 1")

	assert.Equal(t, "2 expect_pending 2 FAILED (got 1)", result.Trace[2])
	assert.Equal(t, "3 expect_local workout_sessions=1 ok", result.Trace[3])
}

func TestRun_PutWithoutOwnerFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: signed_out_put
steps:
  - put: { kind: session, id: s1 }
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
	assert.Contains(t, err.Error(), "no owner signed in")
}

func TestRun_DeleteMissingRowFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: delete_missing
owner: u1
steps:
  - delete: { kind: template, id: nope }
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRun_RemotePutForOtherOwnerIsNotPulled(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: other_owner
owner: u1
steps:
  - remote_put: { kind: session, id: x, owner: u2 }
  - sync: true
  - expect_local: { kind: session, count: 0 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "2 sync pushed=0 failed=0 method_instances=0 workout_templates=0 workout_sessions=0", result.Trace[2])
}

func TestRun_CleansUpTempDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	scenario, err := ParseScenario([]byte("name: tiny\nowner: u1\nsteps:\n  - sync: true\n"))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.NoError(t, err)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "scenario directory removed after the run")
}

func TestResult_TraceText(t *testing.T) {
	r := NewResult()
	r.AddTrace("a")
	r.AddTrace("b\n  c")
	assert.Equal(t, "a\nb\n  c\n", string(r.TraceText()))
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
}
