package hotmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the in-process fallback backend directly, since a
// real Redis endpoint is not available in this environment; New()'s
// probe-and-fallback selection is exercised by TestNewFallsBackWithoutURL.

func TestNewFallsBackWithoutURL(t *testing.T) {
	s := New("")
	t.Cleanup(func() { _ = s.Close() })
	_, ok := s.backend.(*memoryBackend)
	assert.True(t, ok)
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	ok, err := s.Create(ctx, "k", "v1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Create(ctx, "k", "v2", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found, err := s.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", v)
}

func TestExpiredEntryInvisibleToReaders(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Create(ctx, "k", "v", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, found, err := s.Read(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateRequiresExistingKey(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	ok, err := s.Update(ctx, "missing", "v", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(ctx, "k", "v1", 0)
	require.NoError(t, err)
	ok, err = s.Update(ctx, "k", "v2", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	v, _, err := s.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	ok, err := s.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(ctx, "k", "v", 0)
	require.NoError(t, err)
	ok, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListKeysGlobMatch(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		_, err := s.Create(ctx, k, k, 0)
		require.NoError(t, err)
	}

	keys, err := s.ListKeys(ctx, "user:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}

func TestIncrementAccumulates(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	v, ok, err := s.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok, err = s.Increment(ctx, "counter", 2.5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.5, v)
}

func TestIncrementRejectsNonNumericValue(t *testing.T) {
	ctx := context.Background()
	s := NewWithBackend(newMemoryBackend(0))
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Create(ctx, "k", "not-a-number", 0)
	require.NoError(t, err)

	_, _, err = s.Increment(ctx, "k", 1)
	require.Error(t, err)
}
