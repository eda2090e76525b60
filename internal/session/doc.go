// Package session is the in-memory balance cache in front of storage.
//
// The Registry owns one Session per live player. A Session caches the
// player's balance and tracks whether it has to be written back:
//
//   - isNew: no row exists yet; the next save creates it
//   - awaitingSave: the balance changed since the last confirmed save
//   - fixPending: the stored row is keyed by the display name because the
//     stable ID was unknown when it was created
//
// All methods must be called on the engine loop. Saves and identity fixes
// dispatch queries through an engine.Executor; their completions come back
// on the loop and only then update flags. A failed write leaves the session
// dirty, so the next flush sweep retries it.
//
// The Registry keeps a display-name index only for sessions still pending
// a fix. A successful fix swaps the session for one keyed by the real
// stable ID and drops the index entry under the same lock.
package session
