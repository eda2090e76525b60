package flush

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/session"
	"github.com/roach88/coffer/internal/store"
	"github.com/roach88/coffer/internal/testutil"
)

func newRegistry(t *testing.T) (*testutil.ManualExecutor, *testutil.DeterministicClock, *store.Store, *registryHandle) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exec := testutil.NewManualExecutor(s)
	clock := testutil.NewDeterministicClock(testutil.Epoch)
	return exec, clock, s, newRegistryHandle(exec, clock)
}

// registryHandle keeps the bus next to the registry so tests can observe it.
type registryHandle struct {
	*session.Registry
	bus *event.Bus
}

func newRegistryHandle(exec *testutil.ManualExecutor, clock *testutil.DeterministicClock) *registryHandle {
	bus := event.NewBus()
	return &registryHandle{
		Registry: session.NewRegistry(exec, bus, currency.Default(), session.WithClock(clock.Now)),
		bus:      bus,
	}
}

func balance(v int64) *int64 { return &v }

func TestTick_OnlyDirtySessions(t *testing.T) {
	exec, clock, s, reg := newRegistry(t)

	clean := reg.Create("1", "clean", balance(5))
	dirty := reg.Create("2", "dirty", balance(5))
	dirty.AddBalance(5)
	reg.Create("3", "fresh", nil)
	before := clean.Cache().LastUpdate()

	clock.Advance(time.Minute)
	saved := New(reg.Registry, nil).Tick()
	assert.Equal(t, []string{"2", "3"}, saved)
	assert.Len(t, exec.Submitted(), 2)

	exec.RunAll()
	assert.Equal(t, before, clean.Cache().LastUpdate(), "clean session untouched")
	assert.Equal(t, clock.Now(), dirty.Cache().LastUpdate())

	row, err := s.ReadAccount(context.Background(), identity.StableKey("3"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Balance)

	assert.Empty(t, New(reg.Registry, nil).Tick(), "nothing left to save")
}

func TestTick_SkipsSavesInFlight(t *testing.T) {
	exec, _, _, reg := newRegistry(t)
	reg.Create("1", "fresh", nil)
	sched := New(reg.Registry, nil)

	assert.Len(t, sched.Tick(), 1)
	assert.Empty(t, sched.Tick(), "the first save has not completed")
	assert.Equal(t, 1, exec.Len())
}

func TestTick_CancelledSaveRetriedNextSweep(t *testing.T) {
	_, _, _, reg := newRegistry(t)
	reg.Create("1", "fresh", nil)
	sched := New(reg.Registry, nil)

	unsubscribe := reg.bus.BalanceChange.Subscribe(func(e *event.BalanceChange) { e.Cancel() })
	assert.Empty(t, sched.Tick())

	unsubscribe()
	assert.Equal(t, []string{"1"}, sched.Tick())
}

func TestStart_TicksOnLoop(t *testing.T) {
	exec, _, _, reg := newRegistry(t)
	reg.Create("1", "fresh", nil)

	loop := engine.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	New(reg.Registry, nil).Start(ctx, loop, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		loop.RunPending()
		return len(exec.Submitted()) == 1
	}, time.Second, 5*time.Millisecond)
}
