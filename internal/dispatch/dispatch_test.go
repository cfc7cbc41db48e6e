package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/coldmem"
	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/glacier"
	"github.com/corticore/fabric/internal/glacier/connectors"
	"github.com/corticore/fabric/internal/hotmem"
	"github.com/corticore/fabric/internal/redhot"
	"github.com/corticore/fabric/internal/vectorindex"
	"github.com/corticore/fabric/internal/warmmem"
)

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/analytical.db?_pragma=foreign_keys(ON)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cat, err := catalog.New(ctx, db)
	require.NoError(t, err)

	idx := vectorindex.New(4, "", 0)
	rh := redhot.New(idx, cat, 0)

	hot := hotmem.New("", hotmem.WithNamespace("test"))
	t.Cleanup(func() { _ = hot.Close() })

	warm := warmmem.New(t.TempDir(), db)
	t.Cleanup(func() { _ = warm.Close(false) })

	cold, err := coldmem.New(ctx, db, cat)
	require.NoError(t, err)

	gl := glacier.New("mem")
	gl.RegisterObjectConnector("mem", newMemConnector())

	return Dependencies{Catalog: cat, RedHot: rh, Hot: hot, Warm: warm, Cold: cold, Glacier: gl}
}

type memConnector struct{ objects map[string]any }

func newMemConnector() *memConnector { return &memConnector{objects: make(map[string]any)} }

func (c *memConnector) Store(_ context.Context, key string, data any, _ map[string]any) (string, error) {
	c.objects[key] = data
	return key, nil
}

func (c *memConnector) Retrieve(_ context.Context, key string) (any, error) {
	v, ok := c.objects[key]
	if !ok {
		return nil, ferrors.Wrap("memConnector.Retrieve", ferrors.ErrNotFound, errors.New("not found"))
	}
	return v, nil
}

func (c *memConnector) ListObjects(context.Context, string) ([]connectors.ObjectMetadata, error) {
	return nil, nil
}
func (c *memConnector) Delete(context.Context, string) (bool, error) { return true, nil }
func (c *memConnector) Cleanup() error                               { return nil }

func TestStoreRedHotCoercesArrayAndRetrieveFindsIt(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.TierRedHot, "a", []float32{1, 0, 0, 0}, map[string]any{"src": "t"}, nil, StoreOptions{})
	require.NoError(t, err)

	hits, err := Retrieve(ctx, deps, RetrieveRequest{
		FromTier:     catalog.TierRedHot,
		SpatialInput: []float32{1, 0, 0, 0},
		K:            1,
	})
	require.NoError(t, err)
	got := hits.([]redhot.Hit)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Key)
}

func TestStoreRedHotRejectsNonNumericPayload(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.TierRedHot, "a", map[string]any{"not": "a vector"}, nil, nil, StoreOptions{})
	require.Error(t, err)
}

func TestStoreHotRegistersCatalogEntryAndRetrieves(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.TierHot, "session-1", map[string]any{"ok": true}, nil, []string{"sess"}, StoreOptions{})
	require.NoError(t, err)

	entries, err := deps.Catalog.List(ctx, catalog.TierHot)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	val, err := Retrieve(ctx, deps, RetrieveRequest{FromTier: catalog.TierHot, Key: "session-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, val)
}

func TestStoreHotRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.TierHot, "dup", "v1", nil, nil, StoreOptions{})
	require.NoError(t, err)
	_, err = Store(ctx, deps, catalog.TierHot, "dup", "v2", nil, nil, StoreOptions{})
	require.Error(t, err)
}

func TestStoreWarmAcceptsMapAndRetrieveOrdersDescending(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.TierWarm, "", map[string]any{"id": 1.0}, nil, []string{"T"}, StoreOptions{})
	require.NoError(t, err)
	_, err = Store(ctx, deps, catalog.TierWarm, "", map[string]any{"id": 2.0}, nil, []string{"T"}, StoreOptions{})
	require.NoError(t, err)

	out, err := Retrieve(ctx, deps, RetrieveRequest{FromTier: catalog.TierWarm, Tags: []string{"T"}})
	require.NoError(t, err)
	records := out.([]warmmem.Record)
	require.Len(t, records, 2)
	assert.Equal(t, 2.0, records[0].Data.(map[string]any)["id"])
}

func TestStoreWarmRegistersCatalogEntry(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.TierWarm, "", map[string]any{"id": 1.0}, nil, []string{"T"}, StoreOptions{})
	require.NoError(t, err)

	entries, err := deps.Catalog.List(ctx, catalog.TierWarm)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStoreColdCoercesMapToDataFrame(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	dataID, err := Store(ctx, deps, catalog.TierCold, "", map[string]any{"x": 1.0}, nil, nil, StoreOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, dataID)

	out, err := Retrieve(ctx, deps, RetrieveRequest{FromTier: catalog.TierCold, Key: dataID})
	require.NoError(t, err)
	result := out.(map[string]any)
	df := result["data"].(*coldmem.DataFrame)
	require.Equal(t, 1, df.NumRows())
}

func TestStoreGlacierRoundTripsThroughDefaultConnector(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	key, err := Store(ctx, deps, catalog.TierGlacier, "k", map[string]any{"k": "v"}, map[string]any{"t": 1.0}, nil, StoreOptions{})
	require.NoError(t, err)

	out, err := Retrieve(ctx, deps, RetrieveRequest{FromTier: catalog.TierGlacier, Source: "", Key: key})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, out)
}

func TestUnknownTierIsRejected(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)

	_, err := Store(ctx, deps, catalog.Tier("bogus"), "k", "v", nil, nil, StoreOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrTierUnknown))
}
