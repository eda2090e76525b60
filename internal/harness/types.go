package harness

import (
	"github.com/roach88/coffer/internal/queryir"
)

// Trace event types.
const (
	EventCommand = "command" // a console line was executed
	EventOutput  = "output"  // the console wrote a line
	EventRun     = "run"     // pending queries were released
)

// TraceEvent is one step of a scenario execution.
type TraceEvent struct {
	Type string `json:"type"`
	Line string `json:"line"`
	Seq  int64  `json:"seq"`
}

// SessionState is a live session as seen at the end of a scenario.
type SessionState struct {
	StableID    string `json:"stable_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
	New         bool   `json:"new"`
	Unsaved     bool   `json:"unsaved"`
	FixPending  bool   `json:"fix_pending"`
}

// State is the end state of a scenario.
type State struct {
	Players  []queryir.Row  `json:"players"`
	Sessions []SessionState `json:"sessions"`
	Pending  int            `json:"pending"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every command, output line and run in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is captured after the flow, before assertions.
	State State `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(eventType, line string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{Type: eventType, Line: line, Seq: seq})
}

// Output returns the output lines in order.
func (r *Result) Output() []string {
	var lines []string
	for _, e := range r.Trace {
		if e.Type == EventOutput {
			lines = append(lines, e.Line)
		}
	}
	return lines
}
