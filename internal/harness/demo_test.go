package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

// TestDemoScenarios runs every scenario under testdata/scenarios and
// compares its trace with the golden file of the same name.
func TestDemoScenarios(t *testing.T) {
	tests := []string{
		"default_balance_on_create",
		"distinct_adds_commute",
		"sets_complete_out_of_order",
		"placeholder_identity_fixed",
		"transfer_without_atomicity",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
			require.NoError(t, err, "failed to load scenario %s", name)
			assert.Equal(t, name, scenario.Name, "scenario name mismatch")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			require.NotNil(t, result)

			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
			assert.Zero(t, result.State.Pending, "scenario should leave no queries pending")
		})
	}
}

// TestDemoScenarios_Replay checks that a scenario replays identically.
func TestDemoScenarios_Replay(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "transfer_without_atomicity.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.State.Sessions, second.State.Sessions)
}

func TestDemoScenario_OutOfOrderSets(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "sets_complete_out_of_order.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	// The later set completed first, so the earlier one wins.
	require.Len(t, result.State.Players, 1)
	assert.Equal(t, int64(100), result.State.Players[0].Balance)
	require.Len(t, result.State.Sessions, 1)
	assert.Equal(t, int64(100), result.State.Sessions[0].Balance)
	assert.False(t, result.State.Sessions[0].Unsaved)
}

func TestDemoScenario_TransferReceiverCredited(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "transfer_without_atomicity.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.State.Players, 1)
	assert.Equal(t, "bob", result.State.Players[0].DisplayName)
	assert.Equal(t, int64(35), result.State.Players[0].Balance)
}
