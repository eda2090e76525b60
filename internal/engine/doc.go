// Package engine runs the single-writer event loop and dispatches storage
// queries off it.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every mutation of cached balance state (sessions, the registry, the
// transaction ledger) happens on one goroutine, the Loop. Other goroutines
// hand work to it with Post. This is the equivalent of a game server tick:
// - No locks are needed around per-session state
// - A completion callback never runs concurrently with a flush sweep
// - Reasoning about a session's flags only needs the loop's order
//
// Query Dispatch:
// 1. Loop-side code submits a query to an Executor with a completion callback
// 2. The Dispatcher hands the query to a worker goroutine
// 3. The worker runs it against the store
// 4. The worker posts the completion back onto the Loop
// 5. The callback runs on the Loop exactly once
//
// Completion order across distinct queries is NOT guaranteed. A query
// dispatched later may complete first. Callers that need last-write-wins
// across overlapping writes must serialize those writes themselves.
//
// Once dispatched, a query cannot be cancelled. Timeouts belong to the
// worker (see WithQueryTimeout).
package engine
