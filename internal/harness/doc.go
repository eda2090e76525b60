// Package harness runs scripted balance scenarios end to end.
//
// A scenario drives the operator console against a fresh in-memory store.
// Storage queries do not complete on their own: they wait in a manual
// executor until a run step releases them, so completion order is part of
// the script and every run is reproducible.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	default_balance: 0
//	setup:
//	  - join alice x1
//	  - save
//	flow:
//	  - do: write add alice 50
//	  - do: write add alice 50
//	  - run: reverse
//	    expect:
//	      - stored add display_name:alice 50
//	      - stored add display_name:alice 50
//	assertions:
//	  - type: final_state
//	    where: { xuid: x1 }
//	    expect: { balance: 100 }
//
// Setup lines are console commands; every query they submit is run to
// completion before the next line. A flow step either executes a console
// command (do) or releases pending queries (run). Run directives:
//
//   - all: run everything pending, including queries submitted by completions
//   - reverse: run what is pending right now, newest first
//   - next, last: run the oldest or newest pending query
//   - N: run the pending query at index N
//
// An expect list on a step must equal the output lines the step produced.
//
// # Assertion Types
//
//   - output_contains: a line appears in the output
//   - output_order: lines appear in the given order
//   - output_count: a line appears exactly N times
//   - final_state: a stored row matches (or is absent)
//   - session: a live session has the expected balance and flags
//
// # Deterministic Testing
//
// The harness uses:
//   - Manual query execution (testutil.ManualExecutor)
//   - Deterministic wall clock (testutil.DeterministicClock)
//   - Sequential handle IDs
//   - In-memory SQLite database (isolated per scenario)
//
// This ensures identical traces across runs for golden file comparison.
package harness
