package testutil

import (
	"strconv"
	"sync"
)

// SequentialIDs generates "<prefix>-1", "<prefix>-2", ... handle IDs.
//
// Unlike engine.FixedGenerator, it never runs out, so a scenario can issue
// any number of queries and still produce byte-identical traces.
//
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix uses "q".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "q"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID. Implements engine.IDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}
