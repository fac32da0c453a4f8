package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	got, err := Generate(0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultLength)
	for _, r := range got {
		assert.True(t, strings.ContainsRune(alphabet, r))
	}
}

func TestNodeID(t *testing.T) {
	a, b := NodeID(), NodeID()
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, ".")
}

func TestContextIDIsUUID(t *testing.T) {
	_, err := uuid.Parse(ContextID())
	assert.NoError(t, err)
}
