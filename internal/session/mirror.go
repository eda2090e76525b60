package session

import "github.com/roach88/coffer/internal/event"

// MirrorTransactions keeps live sessions in step with balance updates that
// went straight to storage. Each write storage applied is replayed on the
// session it targets, if that player is online and already has a stored
// row.
//
// Returns a function that stops mirroring.
func (r *Registry) MirrorTransactions() (unsubscribe func()) {
	return r.bus.TransactionProcessed.Subscribe(func(e *event.TransactionProcessed) {
		for _, w := range e.Applied {
			s := r.Resolve(w.Target)
			if s == nil || s.cache.isNew {
				continue
			}
			s.applyStored(w)
		}
	})
}
