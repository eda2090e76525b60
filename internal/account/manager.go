// Package account is the read/write API other subsystems use for balances
// in storage.
//
// Every operation dispatches through an engine.Executor and reports back
// through a callback invoked once, on the engine loop. Operations return the
// dispatch handle, or nil when nothing was dispatched.
package account

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/coffer/internal/currency"
	"github.com/roach88/coffer/internal/engine"
	"github.com/roach88/coffer/internal/event"
	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
	"github.com/roach88/coffer/internal/store"
	"github.com/roach88/coffer/internal/txn"
)

// ErrEventCancelled is reported when an observer vetoes a create or delete.
var ErrEventCancelled = errors.New("the event was cancelled")

// DefaultTopLimit is used by GetHighestBalances when limit is not positive.
const DefaultTopLimit = 10

// Manager composes the transaction ledger and the query executor.
// Methods must be called on the engine loop.
type Manager struct {
	ledger *txn.Ledger
	exec   engine.Executor
	bus    *event.Bus
	policy currency.Policy
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the wall clock used for last-update stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLedger shares a ledger with other components.
func WithLedger(l *txn.Ledger) Option {
	return func(m *Manager) {
		m.ledger = l
	}
}

// NewManager creates a Manager.
func NewManager(exec engine.Executor, bus *event.Bus, policy currency.Policy, opts ...Option) *Manager {
	m := &Manager{
		ledger: txn.NewLedger(),
		exec:   exec,
		bus:    bus,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ledger returns the in-flight transaction ledger.
func (m *Manager) Ledger() *txn.Ledger { return m.ledger }

// CreateAccount writes a new account row. A nil balance uses the policy's
// default. AccountCreation observers may change the balance or veto; a veto
// calls done with ErrEventCancelled before returning nil. An existing row is
// left untouched.
func (m *Manager) CreateAccount(id identity.Identity, balance *int64, done func(error)) *engine.Handle {
	ev := &event.AccountCreation{Identity: id, Balance: m.policy.Resolve(balance)}
	m.bus.AccountCreation.Publish(ev)
	if ev.Cancelled() {
		notify(done, ErrEventCancelled)
		return nil
	}

	q := queryir.CreateAccount{Identity: id, Balance: ev.Balance, At: m.now()}
	return m.exec.Submit(q, func(res queryir.Result) {
		notify(done, res.Err)
	})
}

// HasAccount reports whether a row exists for key.
func (m *Manager) HasAccount(key identity.Key, done func(bool, error)) *engine.Handle {
	return m.GetBalance(key, func(balance *int64, err error) {
		if done != nil {
			done(balance != nil, err)
		}
	})
}

// GetBalance reads the stored balance for key. The balance is nil when no
// row exists.
func (m *Manager) GetBalance(key identity.Key, done func(*int64, error)) *engine.Handle {
	return m.GetAccount(key, func(row *queryir.Row, err error) {
		if done == nil {
			return
		}
		if row == nil {
			done(nil, err)
			return
		}
		balance := row.Balance
		done(&balance, nil)
	})
}

// GetAccount reads the whole stored row for key. The row is nil when none
// exists.
func (m *Manager) GetAccount(key identity.Key, done func(*queryir.Row, error)) *engine.Handle {
	return m.exec.Submit(queryir.SelectAccount{Key: key}, func(res queryir.Result) {
		if done == nil {
			return
		}
		if res.Err != nil {
			done(nil, res.Err)
			return
		}
		row, ok := res.First()
		if !ok {
			done(nil, nil)
			return
		}
		done(&row, nil)
	})
}

// UpdateBalance writes tx straight to storage.
//
// The transaction instance is tracked in the ledger from dispatch until its
// completion; submitting the same instance again meanwhile is ignored (nil
// handle, done not called). Distinct instances never block each other. A
// transfer is two independent writes that complete together.
//
// Once any write is applied TransactionProcessed is published, carrying the
// applied writes, before done is called. A storage failure is reported
// ahead of a write that matched no row, which reports store.ErrNoAccount.
func (m *Manager) UpdateBalance(tx txn.Transaction, done func(error)) *engine.Handle {
	if err := txn.Validate(tx); err != nil {
		notify(done, fmt.Errorf("update balance: %w", err))
		return nil
	}

	ticket, ok := m.ledger.Add(tx)
	if !ok {
		slog.Debug("duplicate transaction ignored", "transaction", tx.String())
		return nil
	}

	at := m.now()
	writes := txn.Writes(tx)
	qs := make([]queryir.Query, len(writes))
	for i, w := range writes {
		qs[i] = queryir.WriteBalance{Write: w, At: at}
	}

	return m.exec.SubmitBatch(qs, func(results []queryir.Result) {
		m.ledger.Remove(ticket)

		var failed, missing error
		applied := make([]txn.Write, 0, len(writes))
		for i, res := range results {
			switch {
			case res.Err != nil:
				slog.Warn("balance update failed", "transaction", tx.String(), "target", writes[i].Target.String(), "error", res.Err)
				if failed == nil {
					failed = res.Err
				}
			case res.Affected == 0:
				if missing == nil {
					missing = fmt.Errorf("update %s: %w", writes[i].Target, store.ErrNoAccount)
				}
			default:
				applied = append(applied, writes[i])
			}
		}

		if len(applied) > 0 {
			m.bus.TransactionProcessed.Publish(&event.TransactionProcessed{Transaction: tx, Applied: applied})
		}
		if failed != nil {
			notify(done, failed)
			return
		}
		notify(done, missing)
	})
}

// GetHighestBalances reads up to limit rows by descending balance, skipping
// offset rows. A nil offset starts at the top.
func (m *Manager) GetHighestBalances(limit int, offset *int, done func([]queryir.Row, error)) *engine.Handle {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	skip := 0
	if offset != nil {
		skip = *offset
	}

	return m.exec.Submit(queryir.SelectTop{Limit: limit, Offset: skip}, func(res queryir.Result) {
		if done != nil {
			done(res.Rows, res.Err)
		}
	})
}

// DeleteAccount removes the row for key. AccountDeletion observers may
// veto; a veto calls done with ErrEventCancelled before returning nil.
func (m *Manager) DeleteAccount(key identity.Key, done func(error)) *engine.Handle {
	ev := &event.AccountDeletion{Key: key}
	m.bus.AccountDeletion.Publish(ev)
	if ev.Cancelled() {
		notify(done, ErrEventCancelled)
		return nil
	}

	return m.exec.Submit(queryir.DeleteAccount{Key: key}, func(res queryir.Result) {
		if res.Err == nil && res.Affected == 0 {
			notify(done, fmt.Errorf("delete %s: %w", key, store.ErrNoAccount))
			return
		}
		notify(done, res.Err)
	})
}

func notify(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
