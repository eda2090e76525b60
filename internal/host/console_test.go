package host

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/identity"
)

func TestConsole_SessionLifecycle(t *testing.T) {
	f := newFixture(t)

	steps := []struct {
		line string
		want string
	}{
		{"join Alice x1", "joined alice (x1) balance $10\n"},
		{"add alice 5", "alice (x1) balance $15\n"},
		{"who", "alice (x1) balance $15 [new,unsaved]\n"},
		{"save", "saving 1 session(s)\n"},
		{"who", "alice (x1) balance $15\n"},
		{"tag alice", "alice coffer.balance=$15\n"},
		{"quit alice", "left alice\n"},
		{"who", "nobody online\n"},
		{"bal alice", "alice stored balance $15\n"},
		{"add alice 5", "stored add display_name:alice 5\n"},
		{"top", "1. alice $20\n"},
		{"del alice", "deleted alice\n"},
		{"bal alice", "alice has no account\n"},
		{"del alice", "error: del alice: delete display_name:alice: account not found\n"},
	}

	for _, step := range steps {
		assert.Equal(t, step.want, f.exec1(t, step.line), step.line)
	}
}

func TestConsole_PayMirrorsOnlineReceiver(t *testing.T) {
	f := newFixture(t)
	f.seed(t, identity.New("x1", "alice"), 100)
	f.seed(t, identity.New("x2", "bob"), 0)
	f.connect(t, "x2", "bob")

	out := f.exec1(t, "pay alice bob 30")
	assert.Equal(t, "stored transfer display_name:alice -> display_name:bob 30\n", out)

	assert.Equal(t, "bob (x2) balance $30\n", f.exec1(t, "who"), "mirrored write leaves the session clean")
	assert.Equal(t, "alice stored balance $70\n", f.exec1(t, "bal alice"))
	assert.Equal(t, "1. alice $70\n2. bob $30\n", f.exec1(t, "top 5"))
	assert.Equal(t, "2. bob $30\n", f.exec1(t, "top 1 1"))
}

func TestConsole_OfflineUpdateOfMissingAccount(t *testing.T) {
	f := newFixture(t)

	out := f.exec1(t, "set ghost 5")
	assert.Equal(t, "error: set display_name:ghost 5: update display_name:ghost: account not found\n", out)
}

func TestConsole_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		line string
		want string
	}{
		{"frob", "unknown command: frob"},
		{"add alice", "usage: add <name> <amount>"},
		{"add alice five", `invalid amount "five"`},
		{"sub alice -5", `invalid amount "-5": must not be negative`},
		{"top 0", `invalid limit "0"`},
		{"top 1 -1", `invalid offset "-1"`},
		{"quit bob", "quit bob: player is not online"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := f.console.Exec(tt.line)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}

	assert.ErrorIs(t, f.console.Exec("frob"), ErrUnknownCommand)
	assert.ErrorIs(t, f.console.Exec("quit bob"), ErrNotOnline)
	assert.Zero(t, f.exec.Len())
}

func TestConsole_IgnoresBlankAndComments(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.console.Exec(""))
	assert.NoError(t, f.console.Exec("   "))
	assert.NoError(t, f.console.Exec("# join alice"))
	assert.Empty(t, f.out.String())
}

func TestConsole_Help(t *testing.T) {
	f := newFixture(t)

	out := f.exec1(t, "help")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(commands))
	assert.Equal(t, "add <name> <amount>", lines[0])
}

func TestConsole_Serve(t *testing.T) {
	f := newFixture(t)
	loop := engine.NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	in := strings.NewReader("join alice x1\nfrob\n")
	require.NoError(t, f.console.Serve(ctx, loop, in))

	// Serve returns once every line ran on the loop; the join still waits on
	// storage.
	require.NoError(t, loop.Call(ctx, func() { f.exec.RunAll() }))
	assert.Equal(t, "error: unknown command: frob\njoined alice (x1) balance $10\n", f.out.String())
}

func TestConsole_WriteReachesOnlineSessionThroughMirror(t *testing.T) {
	f := newFixture(t)
	f.seed(t, identity.New("x1", "alice"), 0)
	f.connect(t, "x1", "alice")

	f.out.Reset()
	require.NoError(t, f.console.Exec("write set alice 100"))
	require.NoError(t, f.console.Exec("write set alice 200"))
	f.exec.RunReverse()

	assert.Equal(t, "stored set display_name:alice 200\nstored set display_name:alice 100\n", f.out.String())
	s := f.reg.Get("x1")
	assert.Equal(t, int64(100), s.Balance(), "the later completion wins")
	assert.False(t, s.Cache().Dirty())

	err := f.console.Exec("write mul alice 2")
	assert.EqualError(t, err, `invalid operation "mul": want add, sub or set`)
}
