package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticore/fabric/internal/ferrors"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegisterAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	id, err := cat.Register(ctx, TierWarm, "warm/default/primary", 42, "note", []string{"b", "a"}, `{"k":"v"}`)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entry, err := cat.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, TierWarm, entry.Tier)
	assert.Equal(t, "warm/default/primary", entry.Location)
	assert.Equal(t, int64(42), entry.SizeBytes)
	assert.Equal(t, []string{"a", "b"}, entry.Tags)
	assert.Equal(t, int64(0), entry.AccessCount)
}

func TestRegisterRejectsUnknownTier(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	_, err = cat.Register(ctx, Tier("bogus"), "x", 0, "", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrTierUnknown))
}

func TestGetMissingReturnsNilNoError(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	entry, err := cat.Get(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestTouchIncrementsAccessCount(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	id, err := cat.Register(ctx, TierHot, "hot/x", 1, "", nil, "")
	require.NoError(t, err)

	require.NoError(t, cat.Touch(ctx, id))
	require.NoError(t, cat.Touch(ctx, id))

	entry, err := cat.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.AccessCount)
}

func TestTouchUnknownIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	err = cat.Touch(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrNotFound))
}

func TestListFiltersByTier(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	_, err = cat.Register(ctx, TierCold, "cold/a", 0, "", nil, "")
	require.NoError(t, err)
	_, err = cat.Register(ctx, TierWarm, "warm/a", 0, "", nil, "")
	require.NoError(t, err)

	entries, err := cat.List(ctx, TierCold)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TierCold, entries[0].Tier)
}

func TestRemoveDropsArtifactAndTags(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	id, err := cat.Register(ctx, TierGlacier, "glacier/a", 0, "", []string{"x"}, "")
	require.NoError(t, err)

	require.NoError(t, cat.Remove(ctx, id))

	entry, err := cat.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRegisterPreservesDuplicateTags(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cat, err := New(ctx, db)
	require.NoError(t, err)

	id, err := cat.Register(ctx, TierRedHot, "red_hot/a", 0, "", []string{"alpha", "beta", "alpha"}, "")
	require.NoError(t, err)

	entry, err := cat.Get(ctx, id)
	require.NoError(t, err)
	// duplicate tags on the same artifact are preserved verbatim by Register;
	// de-duplication, if wanted, is a caller concern.
	assert.ElementsMatch(t, []string{"alpha", "beta", "alpha"}, entry.Tags)
}
