package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/store"
)

func disableColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

// seedAccounts creates a database file holding the given accounts.
func seedAccounts(t *testing.T, accounts ...queryir.Row) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "coffer.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, a := range accounts {
		res := st.Execute(context.Background(), queryir.CreateAccount{
			Identity: identity.New(a.StableID, a.DisplayName),
			Balance:  a.Balance,
			At:       at,
		})
		require.NoError(t, res.Err)
	}
	return dbPath
}

func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestBalanceCommand(t *testing.T) {
	disableColor(t)
	dbPath := seedAccounts(t, queryir.Row{StableID: "x1", DisplayName: "alice", Balance: 1250})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"by name", []string{"balance", "alice"}, "alice (x1) $1,250\n"},
		{"name is case-insensitive", []string{"balance", "Alice"}, "alice (x1) $1,250\n"},
		{"by stable id", []string{"balance", "--id", "x1"}, "alice (x1) $1,250\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execCLI(t, append(tt.args, "--db", dbPath)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, output)
		})
	}
}

func TestBalanceCommand_JSON(t *testing.T) {
	dbPath := seedAccounts(t, queryir.Row{StableID: "carol", DisplayName: "carol", Balance: 25})

	output, err := execCLI(t, "balance", "carol", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   AccountView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, AccountView{
		StableID:    "carol",
		DisplayName: "carol",
		Balance:     25,
		Formatted:   "$25",
		FixPending:  true,
	}, resp.Data)
}

func TestBalanceCommand_NotFound(t *testing.T) {
	dbPath := seedAccounts(t)

	output, err := execCLI(t, "balance", "nobody", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "account not found: display_name:nobody")
	assert.Contains(t, output, "Error [E005]")
}

func TestBalanceCommand_NotFoundJSON(t *testing.T) {
	dbPath := seedAccounts(t)

	output, err := execCLI(t, "balance", "--id", "x404", "--db", dbPath, "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "account not found: stable_id:x404", resp.Error.Message)
}

func TestTopCommand(t *testing.T) {
	disableColor(t)
	dbPath := seedAccounts(t,
		queryir.Row{StableID: "x1", DisplayName: "alice", Balance: 70},
		queryir.Row{StableID: "x2", DisplayName: "bob", Balance: 30},
		queryir.Row{StableID: "x3", DisplayName: "dave", Balance: 1500},
	)

	output, err := execCLI(t, "top", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "  1. dave $1,500\n  2. alice $70\n  3. bob $30\n", output)

	output, err = execCLI(t, "top", "-n", "1", "--offset", "1", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "  2. alice $70\n", output)
}

func TestTopCommand_JSON(t *testing.T) {
	dbPath := seedAccounts(t,
		queryir.Row{StableID: "x1", DisplayName: "alice", Balance: 70},
		queryir.Row{StableID: "x2", DisplayName: "bob", Balance: 30},
	)

	output, err := execCLI(t, "top", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []AccountView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 1, resp.Data[0].Rank)
	assert.Equal(t, "alice", resp.Data[0].DisplayName)
	assert.Equal(t, 2, resp.Data[1].Rank)
	assert.Equal(t, "$30", resp.Data[1].Formatted)
}

func TestTopCommand_Empty(t *testing.T) {
	dbPath := seedAccounts(t)

	output, err := execCLI(t, "top", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "No accounts.\n", output)
}

func TestTopCommand_InvalidFlags(t *testing.T) {
	dbPath := seedAccounts(t)

	for _, args := range [][]string{
		{"top", "--limit", "0"},
		{"top", "--offset", "-1"},
	} {
		_, err := execCLI(t, append(args, "--db", dbPath)...)
		require.Error(t, err, "%v", args)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	}
}

func TestDeleteCommand(t *testing.T) {
	dbPath := seedAccounts(t,
		queryir.Row{StableID: "x1", DisplayName: "alice", Balance: 70},
		queryir.Row{StableID: "x2", DisplayName: "bob", Balance: 30},
	)

	output, err := execCLI(t, "delete", "alice", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "Deleted display_name:alice\n", output)

	_, err = execCLI(t, "balance", "alice", "--db", dbPath)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output, err = execCLI(t, "delete", "--id", "x2", "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"deleted":"stable_id:x2","rows":1}}`, output)
}

func TestDeleteCommand_NotFound(t *testing.T) {
	dbPath := seedAccounts(t)

	_, err := execCLI(t, "delete", "ghost", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "account not found: display_name:ghost")
}

func TestAccountCommands_BadConfig(t *testing.T) {
	_, err := execCLI(t, "top", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
