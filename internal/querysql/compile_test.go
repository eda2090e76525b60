package querysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/txn"
)

var at = time.Unix(1700000000, 0)

func TestCompile_Create(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.CreateAccount{
		Identity: identity.New("2535", "Alice"),
		Balance:  100,
		At:       at,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"INSERT INTO players (xuid, username, balance, last_update) VALUES (?, ?, ?, ?) ON CONFLICT(xuid) DO NOTHING",
		sql)
	assert.Equal(t, []any{"2535", "alice", int64(100), int64(1700000000)}, params)
}

func TestCompile_SelectByMode(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.SelectAccount{Key: identity.StableKey("2535")})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE xuid = ?")
	assert.Contains(t, sql, "ORDER BY rowid ASC LIMIT 1")
	assert.Equal(t, []any{"2535"}, params)

	sql, params, err = compiler.Compile(queryir.SelectAccount{Key: identity.NameKey("Alice")})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE username = ?")
	assert.Equal(t, []any{"alice"}, params)
}

func TestCompile_NeverInterpolates(t *testing.T) {
	hostile := "x' OR '1'='1"
	queries := []queryir.Query{
		queryir.SelectAccount{Key: identity.Key{Value: hostile, Mode: identity.ByDisplayName}},
		queryir.DeleteAccount{Key: identity.StableKey(hostile)},
		queryir.SaveBalance{Key: identity.StableKey(hostile), Balance: 1, At: at},
		queryir.FixIdentity{DisplayName: hostile, StableID: "1"},
	}

	for _, q := range queries {
		sql, params, err := NewSQLCompiler().Compile(q)
		require.NoError(t, err)
		assert.NotContains(t, sql, hostile, "value must not appear in %s SQL", q.Kind())
		assert.Contains(t, params, hostile)
	}
}

func TestCompile_Write(t *testing.T) {
	alice := identity.NameKey("alice")

	tests := []struct {
		name    string
		write   txn.Write
		wantSet string
	}{
		{"set", txn.Write{Target: alice, Kind: txn.WriteSet, Amount: 10}, "SET balance = ?,"},
		{"delta", txn.Write{Target: alice, Kind: txn.WriteDelta, Amount: -10}, "SET balance = balance + ?,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := NewSQLCompiler().Compile(queryir.WriteBalance{Write: tt.write, At: at})
			require.NoError(t, err)
			assert.Contains(t, sql, tt.wantSet)
			assert.Contains(t, sql, "last_update = ? WHERE username = ?")
			assert.Equal(t, []any{tt.write.Amount, int64(1700000000), "alice"}, params)
		})
	}
}

func TestCompile_WriteUnknownKind(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(queryir.WriteBalance{
		Write: txn.Write{Target: identity.StableKey("1"), Kind: txn.WriteKind(99)},
	})
	assert.Error(t, err)
}

func TestCompile_Save(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.SaveBalance{
		Key: identity.StableKey("7"), Balance: 42, At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE players SET balance = ?, last_update = ? WHERE xuid = ?", sql)
	assert.Equal(t, []any{int64(42), int64(1700000000), "7"}, params)
}

func TestCompile_FixOnlyTouchesPlaceholderRows(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.FixIdentity{DisplayName: "alice", StableID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE players SET xuid = ? WHERE username = ? AND xuid = username", sql)
	assert.Equal(t, []any{"7", "alice"}, params)
}

func TestCompile_SelectTop(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.SelectTop{Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY balance DESC, rowid ASC")
	assert.Contains(t, sql, "LIMIT ? OFFSET ?")
	assert.Equal(t, []any{5, 10}, params)
}

func TestCompile_Delete(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.DeleteAccount{Key: identity.NameKey("Bob")})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM players WHERE username = ?", sql)
	assert.Equal(t, []any{"bob"}, params)
}

func TestCompile_Errors(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(nil)
	assert.Error(t, err)

	_, _, err = NewSQLCompiler().Compile(queryir.SelectAccount{Key: identity.Key{Value: "x"}})
	assert.Error(t, err)
}

func TestIsRead(t *testing.T) {
	assert.True(t, IsRead(queryir.SelectAccount{}))
	assert.True(t, IsRead(queryir.SelectTop{}))
	assert.False(t, IsRead(queryir.SaveBalance{}))
	assert.False(t, IsRead(queryir.CreateAccount{}))
}
