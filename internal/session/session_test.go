package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/store"
	"github.com/roach88/coffer/internal/testutil"
)

type fixture struct {
	exec  *testutil.ManualExecutor
	bus   *event.Bus
	clock *testutil.DeterministicClock
	store *store.Store
	reg   *Registry
}

// newFixture builds a registry over a manual executor backed by a real
// SQLite store.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		exec:  testutil.NewManualExecutor(s),
		bus:   event.NewBus(),
		clock: testutil.NewDeterministicClock(testutil.Epoch),
		store: s,
	}
	policy := currency.Default()
	policy.DefaultBalance = 10
	f.reg = NewRegistry(f.exec, f.bus, policy, WithClock(f.clock.Now))
	return f
}

func (f *fixture) row(t *testing.T, key identity.Key) queryir.Row {
	t.Helper()
	row, err := f.store.ReadAccount(context.Background(), key)
	require.NoError(t, err)
	return row
}

func balance(v int64) *int64 { return &v }

func TestSession_InitialFlags(t *testing.T) {
	f := newFixture(t)

	fresh := f.reg.Create("1", "alice", nil)
	assert.Equal(t, int64(10), fresh.Balance(), "default balance from policy")
	assert.True(t, fresh.Cache().IsNew())
	assert.False(t, fresh.Cache().AwaitingSave())
	assert.False(t, fresh.FixPending())

	loaded := f.reg.Create("2", "bob", balance(75))
	assert.Equal(t, int64(75), loaded.Balance())
	assert.False(t, loaded.Cache().IsNew())
	assert.False(t, loaded.Cache().AwaitingSave(), "a loaded balance needs no save")
	assert.Equal(t, f.clock.Now(), loaded.Cache().LastUpdate())

	placeholder := f.reg.Create("", "Carol", balance(1))
	assert.True(t, placeholder.FixPending())
	assert.Equal(t, "carol", placeholder.StableID())
}

func TestSession_MutationMarksDirty(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", balance(100))

	s.AddBalance(50)
	assert.Equal(t, int64(150), s.Balance())
	assert.True(t, s.Cache().AwaitingSave())

	s.SubtractBalance(200)
	assert.Equal(t, int64(-50), s.Balance(), "no negative guard")

	s.SetBalance(7)
	assert.Equal(t, int64(7), s.Balance())
	assert.True(t, s.Cache().Dirty())
}

func TestSession_OnSave_NoopWhenClean(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", balance(100))

	assert.False(t, s.OnSave())
	assert.Empty(t, f.exec.Submitted())
}

func TestSession_OnSave_CreatesNewAccount(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", nil)

	require.True(t, s.OnSave())
	require.Len(t, f.exec.Pending(), 1)
	assert.Equal(t, queryir.KindCreate, f.exec.Pending()[0].Kind())
	assert.True(t, s.Cache().IsNew(), "flags wait for the write to succeed")

	f.clock.Advance(time.Minute)
	f.exec.RunAll()

	assert.False(t, s.Cache().IsNew())
	assert.False(t, s.Cache().AwaitingSave())
	assert.Equal(t, int64(10), f.row(t, identity.StableKey("1")).Balance)
	assert.False(t, s.OnSave(), "clean after the create")
}

func TestSession_OnSave_NewAndMutatedStillCreates(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", nil)
	s.AddBalance(5)

	require.True(t, s.OnSave())
	assert.Equal(t, queryir.CreateAccount{Identity: s.Identity(), Balance: 15, At: f.clock.Now()}, f.exec.Pending()[0])

	f.exec.RunAll()
	assert.False(t, s.Cache().Dirty())
}

func TestSession_OnSave_UpdateUsesEffectiveKey(t *testing.T) {
	f := newFixture(t)

	fixed := f.reg.Create("1", "alice", balance(1))
	fixed.AddBalance(1)
	require.True(t, fixed.OnSave())

	pending := f.reg.Create("", "bob", balance(1))
	pending.AddBalance(1)
	require.True(t, pending.OnSave())

	queries := f.exec.Pending()
	require.Len(t, queries, 2)
	assert.Equal(t, identity.StableKey("1"), queries[0].(queryir.SaveBalance).Key)
	assert.Equal(t, identity.Key{Value: "bob", Mode: identity.ByDisplayName}, queries[1].(queryir.SaveBalance).Key)
}

func TestSession_OnSave_FailureKeepsDirty(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", nil)

	require.True(t, s.OnSave())
	f.exec.Fail(0, errors.New("disk full"))

	assert.True(t, s.Cache().IsNew())
	assert.False(t, s.Cache().Saving())
	assert.True(t, s.OnSave(), "the next sweep retries")
}

func TestSession_OnSave_InFlightGuard(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", nil)

	require.True(t, s.OnSave())
	assert.False(t, s.OnSave(), "no second dispatch while a save is in flight")
	assert.Len(t, f.exec.Submitted(), 1)
}

func TestSession_OnSave_MutationDuringFlight(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", balance(100))
	s.AddBalance(1)

	require.True(t, s.OnSave())
	s.AddBalance(1)
	f.exec.RunAll()

	assert.True(t, s.Cache().AwaitingSave(), "the later mutation still needs a save")
	assert.Equal(t, int64(101), f.row(t, identity.StableKey("1")).Balance)

	require.True(t, s.OnSave())
	f.exec.RunAll()
	assert.False(t, s.Cache().AwaitingSave())
	assert.Equal(t, int64(102), f.row(t, identity.StableKey("1")).Balance)
}

func TestSession_OnSave_CancelledByObserver(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", balance(100))
	s.AddBalance(1)

	var seen int64
	unsubscribe := f.bus.BalanceChange.Subscribe(func(e *event.BalanceChange) {
		seen = e.Balance
		e.Cancel()
	})

	assert.False(t, s.OnSave())
	assert.Equal(t, int64(101), seen)
	assert.Empty(t, f.exec.Submitted())
	assert.True(t, s.Cache().AwaitingSave(), "a vetoed save is retried")

	unsubscribe()
	assert.True(t, s.OnSave())
}

func TestSession_AttemptFix(t *testing.T) {
	f := newFixture(t)

	// A row stored before the stable ID was known.
	placeholder := f.reg.Create("", "alice", nil)
	require.True(t, placeholder.OnSave())
	f.exec.RunAll()
	placeholder.AddBalance(5)

	h := placeholder.AttemptFix("100")
	require.NotNil(t, h)
	assert.Nil(t, placeholder.AttemptFix("100"), "one fix in flight")
	assert.Same(t, placeholder, f.reg.GetByDisplayName("alice"), "old key resolves until the fix lands")

	f.exec.RunAll()
	assert.True(t, h.Completed())

	fixed := f.reg.Get("100")
	require.NotNil(t, fixed)
	assert.NotSame(t, placeholder, fixed)
	assert.False(t, fixed.FixPending())
	assert.Equal(t, int64(15), fixed.Balance())
	assert.True(t, fixed.Cache().AwaitingSave(), "unsaved change carries over")

	assert.Nil(t, f.reg.Get("alice"))
	assert.Nil(t, f.reg.GetByDisplayName("alice"))
	assert.Same(t, fixed, f.reg.Lookup("100", "alice"))
	assert.Equal(t, 1, f.reg.Len())

	row := f.row(t, identity.StableKey("100"))
	assert.Equal(t, "alice", row.DisplayName)
}

func TestSession_AttemptFix_NotPending(t *testing.T) {
	f := newFixture(t)
	s := f.reg.Create("1", "alice", balance(1))

	assert.Nil(t, s.AttemptFix("2"))

	p := f.reg.Create("", "bob", balance(1))
	assert.Nil(t, p.AttemptFix(""))
	assert.Nil(t, p.AttemptFix("bob"))
	assert.Empty(t, f.exec.Submitted())
}

func TestSession_AttemptFix_Failure(t *testing.T) {
	f := newFixture(t)
	p := f.reg.Create("", "bob", balance(1))

	require.NotNil(t, p.AttemptFix("200"))
	f.exec.Fail(0, errors.New("locked"))

	assert.Same(t, p, f.reg.GetByDisplayName("bob"))
	assert.Nil(t, f.reg.Get("200"))
	assert.NotNil(t, p.AttemptFix("200"), "may retry after a failure")
}

func TestSession_AttemptFix_AfterRemove(t *testing.T) {
	f := newFixture(t)
	p := f.reg.Create("", "bob", balance(1))

	require.NotNil(t, p.AttemptFix("200"))
	require.True(t, f.reg.Remove("bob"))
	f.exec.RunAll()

	assert.Nil(t, f.reg.Get("200"), "a departed player is not brought back")
	assert.Equal(t, 0, f.reg.Len())
}

func (f *fixture) rows(t *testing.T) []queryir.Row {
	t.Helper()
	rows, err := f.store.ReadTop(context.Background(), 100, 0)
	require.NoError(t, err)
	return rows
}

func TestSession_AttemptFix_RefusedWhileCreateInFlight(t *testing.T) {
	f := newFixture(t)
	p := f.reg.Create("", "alice", nil)
	p.AddBalance(5)
	require.True(t, p.OnSave())

	assert.Nil(t, p.AttemptFix("x1"), "the create is still in flight")
	f.exec.RunAll()

	for s := range f.reg.All(Dirty) {
		s.OnSave()
	}
	f.exec.RunAll()

	rows := f.rows(t)
	require.Len(t, rows, 1, "the account is created once")
	assert.Equal(t, "alice", rows[0].StableID)
	assert.Equal(t, int64(15), rows[0].Balance)

	require.NotNil(t, p.AttemptFix("x1"), "retried once the create landed")
	f.exec.RunAll()

	rows = f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "x1", rows[0].StableID)
	assert.Equal(t, "alice", rows[0].DisplayName)
	assert.Equal(t, int64(15), rows[0].Balance)
}

func TestSession_AttemptFix_BeforeCreateLands(t *testing.T) {
	f := newFixture(t)
	p := f.reg.Create("", "alice", nil)
	p.AddBalance(5)

	require.NotNil(t, p.AttemptFix("x1"))
	require.True(t, p.OnSave(), "saving is not blocked by a pending fix")

	// The fix reaches storage before the row exists.
	f.exec.Run(0)
	assert.Same(t, p, f.reg.GetByDisplayName("alice"), "not re-keyed while the create is in flight")
	assert.Nil(t, f.reg.Get("x1"))

	f.exec.RunAll()
	for s := range f.reg.All(Dirty) {
		s.OnSave()
	}
	f.exec.RunAll()

	rows := f.rows(t)
	require.Len(t, rows, 1, "the account is created once")
	assert.Equal(t, "alice", rows[0].StableID)
	assert.Equal(t, int64(15), rows[0].Balance)
	assert.True(t, p.FixPending())
}

func TestSession_AttemptFix_AfterCreateRanFirst(t *testing.T) {
	f := newFixture(t)
	p := f.reg.Create("", "alice", nil)
	require.NotNil(t, p.AttemptFix("x1"))
	require.True(t, p.OnSave())

	// Storage runs the create, then the fix.
	f.exec.Run(1)
	f.exec.Run(0)

	fixed := f.reg.Get("x1")
	require.NotNil(t, fixed)
	assert.False(t, fixed.Cache().IsNew(), "the row already exists under the stable ID")
	assert.False(t, fixed.OnSave(), "nothing left to write")

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "x1", rows[0].StableID)
	assert.Equal(t, int64(10), rows[0].Balance)
}

func TestSession_AttemptFix_UnwrittenSessionIsRekeyed(t *testing.T) {
	f := newFixture(t)
	p := f.reg.Create("", "alice", nil)

	require.NotNil(t, p.AttemptFix("x1"))
	f.exec.RunAll()

	fixed := f.reg.Get("x1")
	require.NotNil(t, fixed, "no row to move yet, so the create will use the stable ID")
	assert.True(t, fixed.Cache().IsNew())

	require.True(t, fixed.OnSave())
	f.exec.RunAll()

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "x1", rows[0].StableID)
}
