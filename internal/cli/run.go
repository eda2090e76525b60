package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coffer/internal/account"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/flush"
	"github.com/roach88/coffer/internal/host"
	"github.com/roach88/coffer/internal/scoreboard"
	"github.com/roach88/coffer/internal/session"
)

// DefaultShutdownTimeout bounds the final flush and drain.
const DefaultShutdownTimeout = 30 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ShutdownTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the balance service with an operator console",
		Long: `Start the balance service.

Opens the SQLite database (creating it if it doesn't exist), starts the
single-writer loop, the query workers and the periodic flush, then reads
console commands from stdin. Type "help" for the command list.

The service stops at end of input or on SIGINT/SIGTERM. Dirty sessions are
saved one last time and outstanding queries are drained before the database
is closed.

Example:
  coffer run --db ./coffer.db
  coffer run --config coffer.yaml --verbose
  coffer run --db ./coffer.db < script.txt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", DefaultShutdownTimeout, "bound on the final flush and drain")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(opts.RootOptions, cfg, cmd.ErrOrStderr())

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)
	slog.Info("database ready", "path", cfg.Database.Path)

	policy := cfg.Policy()
	loop := engine.NewLoop()
	disp := engine.NewDispatcher(loop, st,
		engine.WithWorkers(cfg.Workers.Count),
		engine.WithQueryTimeout(cfg.Workers.QueryTimeout),
	)
	bus := event.NewBus()

	registry := session.NewRegistry(disp, bus, policy)
	registry.MirrorTransactions()
	accounts := account.NewManager(disp, bus, policy)
	board := scoreboard.New(accounts, policy, cfg.Scoreboard.TTL)
	board.Attach(bus)

	h := host.New(registry, accounts, host.WithScoreboard(board))
	flusher := flush.New(registry, slog.Default())
	out := cmd.OutOrStdout()
	console := host.NewConsole(h, flusher, policy, out)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(out, "coffer started. Type \"help\" for commands.")

	// The loop outlives ctx: the shutdown flush still runs on it.
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(context.Background()) }()

	flusher.Start(ctx, loop, cfg.Flush.Period)

	served := make(chan error, 1)
	go func() { served <- console.Serve(ctx, loop, cmd.InOrStdin()) }()

	select {
	case <-ctx.Done():
	case err := <-served:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("console stopped", "error", err)
		}
	}
	cancel()

	saved, shutdownErr := shutdown(loop, disp, flusher, opts.ShutdownTimeout)
	loop.Stop()
	<-loopDone

	fmt.Fprintf(out, "saved %d session(s) on shutdown\n", saved)
	if shutdownErr != nil {
		return WrapExitError(ExitFailure, "shutdown incomplete", shutdownErr)
	}
	slog.Info("service stopped gracefully")
	return nil
}

// shutdown lets in-flight queries land, saves every dirty session, waits for
// the saves (and anything their completions submit), then closes the
// dispatcher.
func shutdown(loop *engine.Loop, disp *engine.Dispatcher, flusher *flush.Scheduler, timeout time.Duration) (int, error) {
	defer disp.Close()

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := disp.Drain(ctx); err != nil {
		return 0, fmt.Errorf("drain queries: %w", err)
	}

	var saved []string
	if err := loop.Call(ctx, func() { saved = flusher.Tick() }); err != nil {
		return 0, fmt.Errorf("final flush: %w", err)
	}
	slog.Info("final flush dispatched", "sessions", len(saved))

	if err := disp.Drain(ctx); err != nil {
		return len(saved), fmt.Errorf("drain queries: %w", err)
	}
	return len(saved), nil
}
