package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceSnapshot_Marshal(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "snapshot",
		Trace: []TraceEvent{
			{Type: EventCommand, Line: "pay alice bob 5", Seq: 1},
			{Type: EventOutput, Line: "stored transfer display_name:alice -> display_name:bob 5", Seq: 2},
		},
	}

	data, err := snapshot.Marshal()
	require.NoError(t, err)

	want := `{
  "scenario_name": "snapshot",
  "trace": [
    {
      "type": "command",
      "line": "pay alice bob 5",
      "seq": 1
    },
    {
      "type": "output",
      "line": "stored transfer display_name:alice -> display_name:bob 5",
      "seq": 2
    }
  ]
}
`
	assert.Equal(t, want, string(data))
	assert.NotContains(t, string(data), `\u003e`, "arrows are not escaped")
}

func TestTraceSnapshot_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "snapshot_determinism",
		Description: "Marshalled traces are byte-identical across runs",
		Setup:       []string{"join alice x1"},
		Flow:        []FlowStep{{Do: "set alice 9"}, {Do: "save"}, {Run: "all"}},
		Assertions:  []Assertion{{Type: AssertFinalState, Where: map[string]any{"xuid": "x1"}, Expect: map[string]any{"balance": 9}}},
	}

	var outputs []string
	for range 3 {
		result, err := Run(scenario)
		require.NoError(t, err)
		require.True(t, result.Pass, "errors: %v", result.Errors)

		snapshot := TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}
		data, err := snapshot.Marshal()
		require.NoError(t, err)
		outputs = append(outputs, string(data))
	}

	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
}

func TestRunWithGolden_DefaultBalance(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/default_balance_on_create.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/sets_complete_out_of_order.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.NoError(t, AssertGolden(t, scenario.Name, result))
}
