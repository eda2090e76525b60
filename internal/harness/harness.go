package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/coffer/internal/account"
	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/flush"
	"github.com/roach88/coffer/internal/host"
	"github.com/roach88/coffer/internal/scoreboard"
	"github.com/roach88/coffer/internal/session"
	"github.com/roach88/coffer/internal/store"
	"github.com/roach88/coffer/internal/testutil"
)

// stateRowLimit caps the rows captured into Result.State.
const stateRowLimit = 1000

// Harness is the test execution engine.
// It plays the engine loop: console commands and completions all run on
// the goroutine calling Run.
type Harness struct {
	store    *store.Store
	exec     *testutil.ManualExecutor
	seq      *engine.Clock
	registry *session.Registry
	console  *host.Console
	out      *bytes.Buffer
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and wire the service over it
// 2. Execute setup lines, draining queries after each
// 3. Execute flow steps, checking per-step expectations
// 4. Capture final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, scenario)
	ctx := context.Background()

	result := NewResult()
	if err := h.executeSetup(scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to capture state: %w", err)
	}

	actx := &AssertionContext{
		Store:    st,
		Registry: h.registry,
		Ctx:      ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	policy := currency.Default()
	policy.DefaultBalance = scenario.DefaultBalance

	clock := testutil.NewDeterministicClock(testutil.Epoch)
	bus := event.NewBus()
	exec := testutil.NewManualExecutor(st)

	registry := session.NewRegistry(exec, bus, policy, session.WithClock(clock.Now))
	registry.MirrorTransactions()
	accounts := account.NewManager(exec, bus, policy, account.WithClock(clock.Now))
	board := scoreboard.New(accounts, policy, scoreboard.DefaultTTL)
	board.Attach(bus)

	out := &bytes.Buffer{}
	hst := host.New(registry, accounts, host.WithScoreboard(board))

	return &Harness{
		store:    st,
		exec:     exec,
		seq:      engine.NewClock(),
		registry: registry,
		console:  host.NewConsole(hst, flush.New(registry, logger), policy, out),
		out:      out,
		logger:   logger,
	}
}

// executeSetup runs each setup line and drains every query it caused.
// Setup lines must be valid commands.
func (h *Harness) executeSetup(setup []string, result *Result) error {
	for i, line := range setup {
		result.AddTrace(EventCommand, line, h.seq.Next())
		if err := h.console.Exec(line); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		n := h.exec.RunAll()
		h.record(result)

		h.logger.Info("setup step completed", "step", i, "command", line, "queries", n)
	}
	return nil
}

// executeFlow runs all flow steps and checks their expect lists.
func (h *Harness) executeFlow(flow []FlowStep, result *Result) error {
	for i, step := range flow {
		var lines []string

		if step.Do != "" {
			result.AddTrace(EventCommand, step.Do, h.seq.Next())
			if err := h.console.Exec(step.Do); err != nil {
				fmt.Fprintf(h.out, "error: %v\n", err)
			}
			lines = h.record(result)
		} else {
			n, err := h.run(step.Run)
			if err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			result.AddTrace(EventRun, fmt.Sprintf("%s (%d)", step.Run, n), h.seq.Next())
			lines = h.record(result)
		}

		if step.Expect != nil && !slices.Equal(step.Expect, lines) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected output %q, got %q", i, step.label(), step.Expect, lines))
		}

		h.logger.Info("flow step completed", "step", i, "step_label", step.label(), "lines", len(lines))
	}

	return nil
}

// run releases pending queries per directive and returns how many ran.
func (h *Harness) run(directive string) (int, error) {
	switch directive {
	case "all":
		return h.exec.RunAll(), nil
	case "reverse":
		return h.exec.RunReverse(), nil
	case "next", "last":
		if h.exec.Len() == 0 {
			return 0, fmt.Errorf("run %s: nothing pending", directive)
		}
		i := 0
		if directive == "last" {
			i = h.exec.Len() - 1
		}
		h.exec.Run(i)
		return 1, nil
	default:
		i, err := strconv.Atoi(directive)
		if err != nil {
			return 0, fmt.Errorf("invalid run directive %q", directive)
		}
		if i < 0 || i >= h.exec.Len() {
			return 0, fmt.Errorf("run %d: only %d pending", i, h.exec.Len())
		}
		h.exec.Run(i)
		return 1, nil
	}
}

// record moves buffered console output into the trace.
func (h *Harness) record(result *Result) []string {
	text := strings.TrimRight(h.out.String(), "\n")
	h.out.Reset()
	if text == "" {
		return []string{}
	}
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		result.AddTrace(EventOutput, line, h.seq.Next())
	}
	return lines
}

func (h *Harness) captureState(ctx context.Context, result *Result) error {
	rows, err := h.store.ReadTop(ctx, stateRowLimit, 0)
	if err != nil {
		return err
	}
	result.State.Players = rows
	result.State.Sessions = []SessionState{}
	for s := range h.registry.All(nil) {
		result.State.Sessions = append(result.State.Sessions, SessionState{
			StableID:    s.StableID(),
			DisplayName: s.DisplayName(),
			Balance:     s.Balance(),
			New:         s.Cache().IsNew(),
			Unsaved:     s.Cache().AwaitingSave(),
			FixPending:  s.FixPending(),
		})
	}
	result.State.Pending = h.exec.Len()
	return nil
}

func (s FlowStep) label() string {
	if s.Do != "" {
		return s.Do
	}
	return "run " + s.Run
}
