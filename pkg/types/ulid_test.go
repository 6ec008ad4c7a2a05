package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGenerator_Generate(t *testing.T) {
	gen := NewULIDGenerator()

	u1, err := gen.Generate()
	require.NoError(t, err)
	u2, err := gen.Generate()
	require.NoError(t, err)

	assert.NotEqual(t, u1, u2)
	assert.Equal(t, -1, u1.Compare(u2))
}

func TestULIDGenerator_ClockGoesBackwards(t *testing.T) {
	gen := NewULIDGenerator()
	later := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	earlier := later.Add(-time.Second)

	u1, err := gen.GenerateWithTime(later)
	require.NoError(t, err)
	u2, err := gen.GenerateWithTime(earlier)
	require.NoError(t, err)

	assert.Equal(t, -1, u1.Compare(u2), "ids must keep increasing when the clock steps back")
	assert.Equal(t, u1.Timestamp(), u2.Timestamp())
}

func TestULID_StringKnownValue(t *testing.T) {
	var zero ULID
	assert.Equal(t, "00000000000000000000000000", zero.String())

	var max ULID
	for i := range max {
		max[i] = 0xFF
	}
	assert.Equal(t, "7ZZZZZZZZZZZZZZZZZZZZZZZZZ", max.String())
}

func TestULID_StringPreservesOrdering(t *testing.T) {
	gen := NewULIDGenerator()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev, err := gen.GenerateWithTime(ts)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		next, err := gen.GenerateWithTime(ts)
		require.NoError(t, err)
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
}

func TestRowID_Uint(t *testing.T) {
	id := RowIDFromUint(42)
	assert.Equal(t, "42", id.String())

	n, ok := id.Uint()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)

	_, ok = RowID("01ARZ3NDEKTSV4RRFFQ69G5FAV").Uint()
	assert.False(t, ok)

	assert.Equal(t, "1,2,3", JoinRowIDs([]RowID{"1", "2", "3"}))
}
