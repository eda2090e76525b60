package engine

import "sync/atomic"

// Clock stamps each dispatch with a sequence number, starting at 1.
// Log lines for a query's dispatch and its completion share the stamp, so
// out-of-order completions can still be lined up against submission order.
//
// The zero value is ready to use. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Issued returns how many stamps have been handed out.
func (c *Clock) Issued() int64 {
	return c.seq.Load()
}
