package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		require.False(t, id.IsEmpty(), "empty ID at iteration %d", i)
		require.False(t, ids[id], "duplicate ID: %s", id)
		ids[id] = true
	}
	assert.Len(t, ids, numIDs)
}

func TestIDIsEmpty(t *testing.T) {
	assert.True(t, ID("").IsEmpty())
	assert.False(t, ID("not-empty").IsEmpty())
	assert.Equal(t, "test-123", ID("test-123").String())
}

func TestParseBatchID(t *testing.T) {
	id := NewBatchID()
	parsed, err := ParseBatchID("  " + id.String() + " ")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	tests := []string{"", "   ", "not-a-uuid"}
	for _, input := range tests {
		_, err := ParseBatchID(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestInputFingerprint(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	a := InputFingerprint(map[string]time.Time{"a.csv": t0, "b.csv": t0.Add(time.Second)})
	b := InputFingerprint(map[string]time.Time{"b.csv": t0.Add(time.Second), "a.csv": t0})
	assert.Equal(t, a, b)
	assert.Len(t, a.Short(), 12)

	touched := InputFingerprint(map[string]time.Time{"a.csv": t0, "b.csv": t0.Add(2 * time.Second)})
	assert.NotEqual(t, a, touched)
}
