package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/coffer/internal/engine"
)

func TestSequentialIDs(t *testing.T) {
	var gen engine.IDGenerator = NewSequentialIDs("")

	assert.Equal(t, "q-1", gen.Generate())
	assert.Equal(t, "q-2", gen.Generate())

	custom := NewSequentialIDs("h")
	assert.Equal(t, "h-1", custom.Generate())
}
