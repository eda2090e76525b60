package harness

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted balance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DefaultBalance overrides the currency's default balance for new
	// accounts. Zero when unset.
	DefaultBalance int64 `yaml:"default_balance,omitempty"`

	// Setup contains console lines run to completion before the flow.
	Setup []string `yaml:"setup,omitempty"`

	// Flow contains the steps under test.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the output and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is either a console command (Do) or a run directive (Run).
type FlowStep struct {
	Do  string `yaml:"do,omitempty"`
	Run string `yaml:"run,omitempty"`

	// Expect lists the exact output lines of this step. Nil skips the
	// check; an empty list expects silence.
	Expect []string `yaml:"expect,omitempty"`
}

// Assertion validates output or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "output_contains": Line appears in the output
	// - "output_order": Lines appear in order (not necessarily adjacent)
	// - "output_count": Line appears exactly Count times
	// - "final_state": a row of Table matching Where has the Expect values
	// - "session": the session of player Name has the Expect values
	Type string `yaml:"type"`

	// Line is the output line (output_contains, output_count).
	Line string `yaml:"line,omitempty"`

	// Lines is the expected output order (output_order).
	Lines []string `yaml:"lines,omitempty"`

	// Count is the expected number of occurrences (output_count).
	Count int `yaml:"count,omitempty"`

	// Table is the table to query (final_state). Defaults to players.
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Absent expects no row to match Where (final_state).
	Absent bool `yaml:"absent,omitempty"`

	// Name is the player's display name (session).
	Name string `yaml:"name,omitempty"`

	// Expect contains expected field values (final_state, session).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertOutputContains = "output_contains"
	AssertOutputOrder    = "output_order"
	AssertOutputCount    = "output_count"
	AssertFinalState     = "final_state"
	AssertSession        = "session"
)

// runDirective matches the run step forms.
var runDirective = regexp.MustCompile(`^(all|reverse|next|last|[0-9]+)$`)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, line := range s.Setup {
		if strings.TrimSpace(line) == "" {
			return fmt.Errorf("setup[%d]: command is required", i)
		}
	}

	for i, step := range s.Flow {
		do, run := strings.TrimSpace(step.Do), strings.TrimSpace(step.Run)
		switch {
		case do == "" && run == "":
			return fmt.Errorf("flow[%d]: one of do or run is required", i)
		case do != "" && run != "":
			return fmt.Errorf("flow[%d]: do and run are mutually exclusive", i)
		case run != "" && !runDirective.MatchString(run):
			return fmt.Errorf("flow[%d]: invalid run directive %q", i, step.Run)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOutputContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for output_contains", index)
		}
	case AssertOutputOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for output_order", index)
		}
	case AssertOutputCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for output_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for output_count", index)
		}
	case AssertFinalState:
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for final_state", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	case AssertSession:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for session", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for session", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
