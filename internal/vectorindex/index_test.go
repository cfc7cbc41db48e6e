package vectorindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEmptyFile(path string) error {
	return os.WriteFile(path, nil, 0o600)
}

func vec128(first float32) []float32 {
	v := make([]float32, 128)
	v[0] = first
	return v
}

func TestExactMatchKNN(t *testing.T) {
	ix := New(128, "", 0)
	require.NoError(t, ix.Upsert("a", vec128(1.0), map[string]any{"src": "t"}, nil, 0))

	hits, err := ix.Search(vec128(1.0), 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)
	assert.Less(t, hits[0].Distance, float32(1e-5))
	assert.Equal(t, "t", hits[0].Metadata["src"])
}

func TestDeleteThenSearchNeverReturnsKey(t *testing.T) {
	ix := New(4, "", 0)
	require.NoError(t, ix.Upsert("a", []float32{1, 0, 0, 0}, nil, nil, 0))
	ok := ix.Delete("a")
	assert.True(t, ok)

	hits, err := ix.Search([]float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "a", h.Key)
	}
}

func TestEvictionAtMaxSize(t *testing.T) {
	ix := New(2, "", 0)
	require.NoError(t, ix.Upsert("a", []float32{0, 0}, nil, nil, 2))
	require.NoError(t, ix.Upsert("b", []float32{1, 1}, nil, nil, 2))
	require.NoError(t, ix.Upsert("c", []float32{2, 2}, nil, nil, 2))
	assert.LessOrEqual(t, ix.Len(), 2)

	hits, err := ix.Search([]float32{0, 0}, 5, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "a", h.Key) // oldest entry was evicted
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	ix := New(4, "", 0)
	err := ix.Upsert("a", []float32{1, 2}, nil, nil, 0)
	require.Error(t, err)
	assert.Equal(t, 0, ix.Len())
}

func TestTagFiltering(t *testing.T) {
	ix := New(2, "", 0)
	require.NoError(t, ix.Upsert("a", []float32{0, 0}, nil, []string{"x"}, 0))
	require.NoError(t, ix.Upsert("b", []float32{0, 0}, nil, []string{"y"}, 0))

	hits, err := ix.Search([]float32{0, 0}, 5, []string{"x"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix := New(3, dir, 1)
	require.NoError(t, ix.Upsert("a", []float32{1, 2, 3}, map[string]any{"k": "v"}, []string{"t1"}, 0))
	require.NoError(t, ix.Flush())

	loaded := Load(3, dir, 1)
	assert.Equal(t, 1, loaded.Len())
	hits, err := loaded.Search([]float32{1, 2, 3}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Key)
	assert.Equal(t, "v", hits[0].Metadata["k"])
}

func TestLoadOnMissingFilesStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	// A stray temp file from an interrupted write should not prevent a
	// clean (empty) load when the real metadata/index files are absent.
	stray := filepath.Join(dir, ".tmp-stray")
	require.NoError(t, writeEmptyFile(stray))

	loaded := Load(3, dir, 10)
	assert.Equal(t, 0, loaded.Len())
}
