// Package event carries the notifications the balance core produces.
//
// Three notifications are cancellable: an observer may veto account
// creation, account deletion, or a session save by calling Cancel before
// the core proceeds. TransactionProcessed is informational and fires after
// a balance update has been written.
//
// Observers run synchronously, in subscription order, on the goroutine that
// publishes (the engine loop). They must not block.
package event
