// Package store provides SQLite-backed durable storage for player balances.
//
// One table, players, holds one row per player:
//
//	xuid         TEXT PRIMARY KEY  stable identity (or the display name while unfixed)
//	username     TEXT NOT NULL     normalized display name
//	balance      INTEGER NOT NULL
//	last_update  INTEGER NOT NULL  unix seconds of the last write
//
// Rows are looked up by xuid or by username depending on whether the player's
// identity has been fixed. Queries arrive as queryir values and are compiled
// by querysql; Execute runs one query and never panics on bad input.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// The store itself is synchronous. Asynchrony belongs to engine.Dispatcher,
// which runs Execute on worker goroutines.
package store
