package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a/b/object.json", []byte(`{"k":"v"}`)))

	data, err := s.Get(ctx, "a/b/object.json")
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, string(data))

	require.NoError(t, s.Put(ctx, "a/b/object.json", []byte(`{}`)))
	data, err = s.Get(ctx, "a/b/object.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	require.NoError(t, s.Delete(ctx, "a/b/object.json"))
	require.NoError(t, s.Delete(ctx, "a/b/object.json"))

	_, err = s.Get(ctx, "a/b/object.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_List(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"x/2.json", "x/1.json", "y/3.json"} {
		require.NoError(t, s.Put(ctx, key, []byte("{}")))
	}

	keys, err := s.List(ctx, "x/")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1.json", "x/2.json"}, keys)

	keys, err = s.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, "k", nil), context.Canceled)
}

func TestKey_Layout(t *testing.T) {
	ts := time.Date(2026, 3, 7, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "oversize/2026/03/07/42.json", Key(ts, types.RowID("42")))
}

func TestArchiver_ArchiveAndFetch(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	a := NewArchiver(s, nil)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	p := payload.New()
	p.Set("e", "ue")
	p.Set("ue_pr", "{\"big\":\"value\"}")

	key, err := a.ArchiveOversize(ctx, "7", "POST", 10, p)
	require.NoError(t, err)
	assert.Equal(t, "oversize/2026/01/02/7.json", key)

	keys, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	res := a.Fetch(ctx, []string{key, "oversize/2026/01/02/missing.json"}, 2)
	require.Len(t, res.Records, 1)
	rec := res.Records[key]
	assert.Equal(t, types.RowID("7"), rec.RowID)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, 10, rec.Limit)
	assert.Equal(t, p.ByteSize(), rec.ByteSize)
	assert.Equal(t, p.Map(), rec.Payload.Map())

	require.Len(t, res.Errors, 1)
	for _, err := range res.Errors {
		assert.Equal(t, errors.CodeObjectNotFound, errors.GetCode(err))
	}
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryConfig, errors.GetCategory(err))
}
