// Package fabric is the tiered memory fabric's public entry point: it
// wires a process-wide internal/manager.Manager into the dispatch,
// schema-index, tiering, and search components and re-exports the types
// a caller needs without reaching into internal/. Grounded on the
// teacher's cmd/bd convention of a single process-wide store wired once
// at startup and threaded through every command.
package fabric

import (
	"context"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/coldmem"
	"github.com/corticore/fabric/internal/dispatch"
	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/hotmem"
	"github.com/corticore/fabric/internal/manager"
	"github.com/corticore/fabric/internal/redhot"
	"github.com/corticore/fabric/internal/schemaindex"
	"github.com/corticore/fabric/internal/search"
	"github.com/corticore/fabric/internal/tiering"
	"github.com/corticore/fabric/internal/warmmem"
)

// Re-exported tier constants and the closed Tier type, so callers never
// need to import internal/catalog directly.
const (
	TierRedHot  = catalog.TierRedHot
	TierHot     = catalog.TierHot
	TierWarm    = catalog.TierWarm
	TierCold    = catalog.TierCold
	TierGlacier = catalog.TierGlacier
)

type Tier = catalog.Tier

// Re-exported sentinel errors (spec §7), so callers can errors.Is against
// the fabric package directly.
var (
	ErrConfigInvalid           = ferrors.ErrConfigInvalid
	ErrTierUnknown             = ferrors.ErrTierUnknown
	ErrConnectorUnknown        = ferrors.ErrConnectorUnknown
	ErrDimensionMismatch       = ferrors.ErrDimensionMismatch
	ErrNotFound                = ferrors.ErrNotFound
	ErrTimeout                 = ferrors.ErrTimeout
	ErrBackend                 = ferrors.ErrBackend
	ErrInvalidPromotion        = ferrors.ErrInvalidPromotion
	ErrNotVectorisable         = ferrors.ErrNotVectorisable
	ErrUnsupportedSpatialInput = ferrors.ErrUnsupportedSpatialInput
	ErrNotImplemented          = ferrors.ErrNotImplemented
)

// StoreOptions and RetrieveRequest are re-exported so callers don't need
// internal/dispatch for the common store/retrieve path.
type StoreOptions = dispatch.StoreOptions
type RetrieveRequest = dispatch.RetrieveRequest

// PromoteRequest is re-exported for the adjacent-tier promotion path.
type PromoteRequest = tiering.PromoteRequest

// EnrichedHit and Capability are re-exported for prioritised search
// results.
type EnrichedHit = search.EnrichedHit
type Capability = search.Capability

// Fabric is the assembled, ready-to-use memory fabric: a manager plus
// the cross-cutting components (schema index, search) built on top of
// it.
type Fabric struct {
	mgr    *manager.Manager
	index  *schemaindex.Index
	search *search.Searcher
}

// Open loads configuration from configPath, constructs (or reuses, on a
// second call in the same process) the singleton manager, and wires the
// schema index's per-tier providers (see wireSchemaProviders).
func Open(ctx context.Context, configPath string) (*Fabric, error) {
	mgr, err := manager.Get(ctx, configPath)
	if err != nil {
		return nil, err
	}

	idx := schemaindex.New(schemaindex.NewHashEncoder(64), mgr.Catalog)
	wireSchemaProviders(idx, mgr)

	return &Fabric{mgr: mgr, index: idx, search: search.New(idx)}, nil
}

// wireSchemaProviders registers SchemaProviders for the red-hot, warm,
// cold and hot tiers. Red-hot, warm and cold call that tier's own
// GetSchema; hot reads the stored value and reports a map's keys as
// fields. Glacier gets no provider, so its entries index under the
// unknown sentinel.
func wireSchemaProviders(idx *schemaindex.Index, mgr *manager.Manager) {
	idx.RegisterProvider(catalog.TierRedHot, func(_ context.Context, entry *catalog.Entry) (schemaindex.Descriptor, error) {
		schema := mgr.RedHot.GetSchema(entry.DataID, nil, entry.Tags)
		return schemaindex.Descriptor{TypeTag: schema.Type, Source: schema.Source}, nil
	})
	idx.RegisterProvider(catalog.TierWarm, func(ctx context.Context, entry *catalog.Entry) (schemaindex.Descriptor, error) {
		// Warm catalog entries carry the warm record's data_id as their location.
		schema, err := mgr.Warm.GetSchema(ctx, entry.Location, "")
		if err != nil {
			return schemaindex.Descriptor{}, err
		}
		if schema == nil {
			return schemaindex.Descriptor{}, ferrors.ErrNotFound
		}
		return schemaindex.Descriptor{Fields: schema.Fields, Types: schema.Types, TypeTag: schema.Type, Source: "warm"}, nil
	})
	idx.RegisterProvider(catalog.TierCold, func(ctx context.Context, entry *catalog.Entry) (schemaindex.Descriptor, error) {
		schema, err := mgr.Cold.GetSchema(ctx, entry.DataID)
		if err != nil {
			return schemaindex.Descriptor{}, err
		}
		return schemaindex.Descriptor{Fields: schema.Columns, TypeTag: "dataframe", Source: "cold"}, nil
	})
	idx.RegisterProvider(catalog.TierHot, func(ctx context.Context, entry *catalog.Entry) (schemaindex.Descriptor, error) {
		value, found, err := mgr.Hot.Read(ctx, entry.Location)
		if err != nil {
			return schemaindex.Descriptor{}, err
		}
		if !found {
			return schemaindex.Descriptor{}, ferrors.ErrNotFound
		}
		fields, ok := value.(map[string]any)
		if !ok {
			return schemaindex.Descriptor{TypeTag: "unknown", Source: "hot"}, nil
		}
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		return schemaindex.Descriptor{Fields: names, TypeTag: "dict", Source: "hot"}, nil
	})
}

func (f *Fabric) deps() dispatch.Dependencies {
	return dispatch.Dependencies{
		Catalog: f.mgr.Catalog,
		RedHot:  f.mgr.RedHot,
		Hot:     f.mgr.Hot,
		Warm:    f.mgr.Warm,
		Cold:    f.mgr.Cold,
		Glacier: f.mgr.Glacier,
	}
}

// Store coerces data into toTier's expected shape and stores it, exactly
// as internal/dispatch.Store.
func (f *Fabric) Store(ctx context.Context, toTier Tier, key string, data any, metadata map[string]any, tags []string, opts StoreOptions) (string, error) {
	return dispatch.Store(ctx, f.deps(), toTier, key, data, metadata, tags, opts)
}

// Retrieve reads from req.FromTier, exactly as internal/dispatch.Retrieve.
func (f *Fabric) Retrieve(ctx context.Context, req RetrieveRequest) (any, error) {
	return dispatch.Retrieve(ctx, f.deps(), req)
}

// Promote runs one adjacent-tier promotion (req.SourceTier -> req.TargetTier).
func (f *Fabric) Promote(ctx context.Context, req PromoteRequest) (string, error) {
	return tiering.PromoteToTier(ctx, f.deps(), req)
}

// UpdateSchemaIndex rebuilds tier's schema index from the current catalog.
func (f *Fabric) UpdateSchemaIndex(ctx context.Context, tier Tier) error {
	return f.index.UpdateIndex(ctx, tier)
}

// UpdateAllSchemaIndexes rebuilds every tier's schema index.
func (f *Fabric) UpdateAllSchemaIndexes(ctx context.Context) error {
	return f.index.UpdateAllIndexes(ctx)
}

// Search runs prioritised search (spec §4.11): walk tiers latency-first,
// stop at the first tier whose hits clear threshold.
func (f *Fabric) Search(ctx context.Context, query string, tiers []Tier, k int, threshold float32) ([]EnrichedHit, error) {
	return f.search.Search(ctx, query, tiers, k, threshold)
}

// GetDataSourcePath delegates to the manager's path layout.
func (f *Fabric) GetDataSourcePath(kind string) (string, error) {
	return f.mgr.GetDataSourcePath(kind)
}

// GetCachePath delegates to the manager's path layout.
func (f *Fabric) GetCachePath(kind string) (string, error) {
	return f.mgr.GetCachePath(kind)
}

// Cleanup releases every owned resource (analytical DB, red-hot index,
// warm pools, hot backend, glacier connectors, schema index).
func (f *Fabric) Cleanup() error {
	if err := f.index.Cleanup(); err != nil {
		return err
	}
	return f.mgr.Cleanup()
}

// The following re-exports let callers reference tier-specific result
// types (e.g. a type switch on Fabric.Retrieve's return value) without
// importing internal packages directly.
type (
	RedHotHit  = redhot.Hit
	WarmRecord = warmmem.Record
	ColdSchema = coldmem.Schema
	HotBackend = hotmem.HotBackend
	SchemaHit  = schemaindex.Hit
)
