package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowtrail/snowtrail/pkg/types"
)

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)
	return matches
}

func TestLogStore_ReclaimsDeadSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLogStore(dir, 256, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 30; i++ {
		_, err := s.Add(ctx, event(i))
		require.NoError(t, err)
	}
	before := len(segmentFiles(t, dir))
	require.Greater(t, before, 3)

	rows, err := s.Range(ctx, 30)
	require.NoError(t, err)
	ids := make([]types.RowID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	require.NoError(t, s.Delete(ctx, ids))

	after := len(segmentFiles(t, dir))
	assert.Less(t, after, before)
	assert.LessOrEqual(t, after, 3)
}

func TestLogStore_KeepsSegmentsWithLiveRows(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLogStore(dir, 256, 0, nil)
	require.NoError(t, err)

	first, err := s.Add(ctx, event(0))
	require.NoError(t, err)
	var rest []types.RowID
	for i := 1; i < 20; i++ {
		id, err := s.Add(ctx, event(i))
		require.NoError(t, err)
		rest = append(rest, id)
	}
	require.NoError(t, s.Delete(ctx, rest))
	require.NoError(t, s.Close())

	s, err = NewLogStore(dir, 256, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Range(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first, rows[0].ID)
}

func TestLogStore_SkipsCorruptRecordOnReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLogStore(dir, 1<<20, 0, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, event(i))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	files := segmentFiles(t, dir)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	// corrupt a byte inside the first record's body
	data[12] ^= 0xFF
	require.NoError(t, os.WriteFile(files[0], data, 0644))

	s, err = NewLogStore(dir, 1<<20, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Range(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "action-1", action(t, rows[0]))
}
