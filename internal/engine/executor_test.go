package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/coffer/internal/identity"
	"github.com/roach88/coffer/internal/queryir"
)

func TestHandle_CompletesOnce(t *testing.T) {
	h := NewHandle("h-1", 1, queryir.SelectAccount{Key: identity.StableKey("1")})

	assert.False(t, h.Completed())
	assert.Nil(t, h.Results())

	calls := 0
	assert.True(t, h.Complete([]queryir.Result{{Affected: 1}}, func() { calls++ }))
	assert.False(t, h.Complete([]queryir.Result{{Affected: 2}}, func() { calls++ }))

	assert.Equal(t, 1, calls)
	assert.True(t, h.Completed())
	assert.Equal(t, int64(1), h.Result().Affected)
}

func TestHandle_DoneClosedAfterCallback(t *testing.T) {
	h := NewHandle("h-1", 1)

	observed := false
	h.Complete(nil, func() {
		select {
		case <-h.Done():
			observed = true
		default:
		}
	})

	assert.False(t, observed, "Done must not close before the callback returns")
	<-h.Done()
}

func TestHandle_Metadata(t *testing.T) {
	h := NewHandle("h-7", 7, queryir.SelectTop{Limit: 1}, nil)

	assert.Equal(t, "h-7", h.ID())
	assert.Equal(t, int64(7), h.Seq())
	assert.Equal(t, []queryir.Kind{queryir.KindSelectTop, "nil"}, h.Kinds())
	assert.Equal(t, queryir.Result{}, h.Result(), "incomplete handle has no result")
}
