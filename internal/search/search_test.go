package search

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/schemaindex"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cat, err := catalog.New(context.Background(), db)
	require.NoError(t, err)
	return cat
}

func TestSearchStopsAtFirstTierWithAcceptedHits(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	redHotID, err := cat.Register(ctx, catalog.TierRedHot, "rh-loc", 1, "vector", nil, "")
	require.NoError(t, err)
	coldID, err := cat.Register(ctx, catalog.TierCold, "cold-loc", 1, "dataframe", nil, "")
	require.NoError(t, err)

	si := schemaindex.New(schemaindex.NewHashEncoder(8), cat)
	si.RegisterProvider(catalog.TierRedHot, func(context.Context, *catalog.Entry) (schemaindex.Descriptor, error) {
		return schemaindex.Descriptor{Fields: []string{"height"}, TypeTag: "vector", Source: "red_hot"}, nil
	})
	si.RegisterProvider(catalog.TierCold, func(context.Context, *catalog.Entry) (schemaindex.Descriptor, error) {
		return schemaindex.Descriptor{Fields: []string{"height"}, TypeTag: "dataframe", Source: "cold"}, nil
	})
	require.NoError(t, si.UpdateAllIndexes(ctx))

	s := New(si)
	hits, err := s.Search(ctx, "height type:vector source:red_hot", nil, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, catalog.TierRedHot, hits[0].Tier)
	assert.Equal(t, redHotID, hits[0].DataID)
	_ = coldID
}

func TestSearchFallsThroughColderTiersWhenNoAcceptedHit(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	_, err := cat.Register(ctx, catalog.TierRedHot, "rh-loc", 1, "vector", nil, "")
	require.NoError(t, err)
	coldID, err := cat.Register(ctx, catalog.TierCold, "cold-loc", 1, "dataframe", nil, "")
	require.NoError(t, err)

	si := schemaindex.New(schemaindex.NewHashEncoder(8), cat)
	si.RegisterProvider(catalog.TierRedHot, func(context.Context, *catalog.Entry) (schemaindex.Descriptor, error) {
		return schemaindex.Descriptor{Fields: []string{"unrelated"}, TypeTag: "vector", Source: "red_hot"}, nil
	})
	si.RegisterProvider(catalog.TierCold, func(context.Context, *catalog.Entry) (schemaindex.Descriptor, error) {
		return schemaindex.Descriptor{Fields: []string{"height"}, TypeTag: "dataframe", Source: "cold"}, nil
	})
	require.NoError(t, si.UpdateAllIndexes(ctx))

	s := New(si)
	hits, err := s.Search(ctx, "height type:dataframe source:cold", nil, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, catalog.TierCold, hits[0].Tier)
	assert.Equal(t, coldID, hits[0].DataID)
}

func TestSearchReturnsNoResultsWhenNothingClearsThreshold(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)
	_, err := cat.Register(ctx, catalog.TierWarm, "w-loc", 1, "dict", nil, "")
	require.NoError(t, err)

	si := schemaindex.New(schemaindex.NewHashEncoder(8), cat)
	si.RegisterProvider(catalog.TierWarm, func(context.Context, *catalog.Entry) (schemaindex.Descriptor, error) {
		return schemaindex.Descriptor{Fields: []string{"unrelated"}, TypeTag: "dict", Source: "warm"}, nil
	})
	require.NoError(t, si.UpdateAllIndexes(ctx))

	s := New(si)
	hits, err := s.Search(ctx, "height", nil, 5, 1.0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGetEnhancedMetadataSplitsLocationAndDerivesCapabilities(t *testing.T) {
	entry := &catalog.Entry{DataID: "id-1", Tier: catalog.TierWarm, Location: "analytics/buildings"}
	hits := []schemaindex.Hit{
		{
			Tier:       catalog.TierWarm,
			DataID:     "id-1",
			Distance:   0.1,
			Descriptor: schemaindex.Descriptor{Fields: []string{"geometry", "name", "created_at"}},
			Catalog:    entry,
		},
	}

	enriched := GetEnhancedMetadata(hits)
	require.Len(t, enriched, 1)
	assert.Equal(t, "analytics", enriched[0].DatabaseName)
	assert.Equal(t, "buildings", enriched[0].TableName)

	names := make([]string, len(enriched[0].QueryCapabilities))
	for i, c := range enriched[0].QueryCapabilities {
		names[i] = c.Name
	}
	assert.Contains(t, names, "spatial_query")
	assert.Contains(t, names, "text_search")
	assert.Contains(t, names, "time_series")
}

func TestGetEnhancedMetadataHandlesLocationWithoutSeparator(t *testing.T) {
	hits := []schemaindex.Hit{
		{DataID: "id-2", Catalog: &catalog.Entry{Location: "flat-key"}},
	}
	enriched := GetEnhancedMetadata(hits)
	require.Len(t, enriched, 1)
	assert.Empty(t, enriched[0].DatabaseName)
	assert.Empty(t, enriched[0].TableName)
}
