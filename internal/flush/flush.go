// Package flush periodically writes dirty sessions back to storage.
package flush

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/session"
)

// DefaultPeriod is the sweep period when none is configured.
const DefaultPeriod = 5 * time.Minute

// Scheduler sweeps the registry for sessions with something to persist.
type Scheduler struct {
	registry *session.Registry
	logger   *slog.Logger
}

// New creates a Scheduler over registry. A nil logger uses slog.Default.
func New(registry *session.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{registry: registry, logger: logger}
}

// Tick asks every new or awaiting-save session to save and returns the
// stable IDs of those that dispatched a write. Clean sessions are not
// touched. Must run on the engine loop.
func (s *Scheduler) Tick() []string {
	saved := []string{}
	for sess := range s.registry.All(session.Dirty) {
		if sess.OnSave() {
			s.logger.Debug("saved session", "stable_id", sess.StableID(), "display_name", sess.DisplayName())
			saved = append(saved, sess.StableID())
		}
	}
	return saved
}

// Start posts a Tick onto loop every period until ctx is cancelled. Every
// tick is posted on schedule even if earlier sweeps are still queued.
func (s *Scheduler) Start(ctx context.Context, loop *engine.Loop, period time.Duration) {
	if period <= 0 {
		period = DefaultPeriod
	}
	s.logger.Info("flush scheduler started", "period", period)
	loop.Every(ctx, period, func() {
		if saved := s.Tick(); len(saved) > 0 {
			s.logger.Info("flush sweep", "saved", len(saved))
		}
	})
}
