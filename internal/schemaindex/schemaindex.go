// Package schemaindex implements the cross-tier schema index (spec §4.9):
// one flat vector index per storage tier over vectorised schema
// descriptors, so a natural-language query can discover which tier holds
// relevant data. Grounded on
// original_source/memories/utils/core/schema_embeddings.py and
// memory_index.py for the vectorisation-input concatenation rule and the
// per-tier index shape; reuses internal/vectorindex (the same flat L2
// index backing red-hot memory).
package schemaindex

import (
	"context"
	"sort"
	"strings"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/vectorindex"
)

// Descriptor is a schema summary for one artifact (spec §3 Schema
// descriptor). Fields/Types describe a tabular shape; TypeTag is the
// closed set `dataframe|dict|geodataframe|table|file|vector|unknown`.
type Descriptor struct {
	Fields       []string
	Types        []string
	TypeTag      string
	Source       string
	GeometryType string
	CRS          string
}

// unknownDescriptor is the sentinel used when a tier cannot produce a
// schema for one of its catalog entries.
func unknownDescriptor(tier catalog.Tier) Descriptor {
	return Descriptor{TypeTag: "unknown", Source: string(tier)}
}

// vectoriseInput builds the space-joined concatenation spec §4.9 requires:
// field names, `type:<t>`, `source:<s>`, and `geometry:<g>` when present.
func vectoriseInput(d Descriptor) string {
	parts := make([]string, 0, len(d.Fields)+3)
	parts = append(parts, d.Fields...)
	parts = append(parts, "type:"+d.TypeTag, "source:"+d.Source)
	if d.GeometryType != "" {
		parts = append(parts, "geometry:"+d.GeometryType)
	}
	return strings.Join(parts, " ")
}

// Encoder turns text into a fixed-dimension embedding. The real embedding
// model is an opaque out-of-scope dependency (spec §1 Out of scope); a
// caller may plug one in, or use HashEncoder for a deterministic stand-in.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// SchemaProvider asks a tier component for the schema of one catalog
// entry. Returning an error is treated the same as "this tier cannot
// produce a schema" — the entry still gets indexed under the unknown
// sentinel rather than dropped.
type SchemaProvider func(ctx context.Context, entry *catalog.Entry) (Descriptor, error)

// Hit is one schema-index search result.
type Hit struct {
	Tier       catalog.Tier
	DataID     string
	Distance   float32
	Descriptor Descriptor
	Catalog    *catalog.Entry
}

// Index is the schema index: one vectorindex.Index per tier, plus the
// catalog and schema providers needed to (re)build them.
type Index struct {
	dim       int
	encoder   Encoder
	cat       *catalog.Catalog
	providers map[catalog.Tier]SchemaProvider
	tiers     map[catalog.Tier]*vectorindex.Index
}

// New creates an empty schema index. encoder.Dim() fixes the dimension of
// every per-tier index.
func New(encoder Encoder, cat *catalog.Catalog) *Index {
	return &Index{
		dim:       encoder.Dim(),
		encoder:   encoder,
		cat:       cat,
		providers: make(map[catalog.Tier]SchemaProvider),
		tiers:     make(map[catalog.Tier]*vectorindex.Index),
	}
}

// RegisterProvider wires tier's schema lookup into the index. Tiers with
// no registered provider always index under the unknown sentinel.
func (si *Index) RegisterProvider(tier catalog.Tier, provider SchemaProvider) {
	si.providers[tier] = provider
}

func (si *Index) indexFor(tier catalog.Tier) *vectorindex.Index {
	idx, ok := si.tiers[tier]
	if !ok {
		idx = vectorindex.New(si.dim, "", 0)
		si.tiers[tier] = idx
	}
	return idx
}

// UpdateIndex rebuilds tier's schema index from the current catalog
// contents: for every catalog entry under tier, ask its provider for a
// schema (or fall back to the unknown sentinel), vectorise it, and upsert
// into that tier's index keyed by data_id.
func (si *Index) UpdateIndex(ctx context.Context, tier catalog.Tier) error {
	if !catalog.ValidTier(tier) {
		return ferrors.Wrap("schemaindex.UpdateIndex", ferrors.ErrTierUnknown, errTier(tier))
	}
	entries, err := si.cat.List(ctx, tier)
	if err != nil {
		return err
	}

	idx := si.indexFor(tier)
	provider := si.providers[tier]

	for _, entry := range entries {
		desc := unknownDescriptor(tier)
		if provider != nil {
			if d, derr := provider(ctx, entry); derr == nil {
				desc = d
			}
		}
		vec, err := si.encoder.Embed(ctx, vectoriseInput(desc))
		if err != nil {
			return ferrors.Wrap("schemaindex.UpdateIndex", ferrors.ErrBackend, err)
		}
		meta := map[string]any{
			"type_tag":      desc.TypeTag,
			"source":        desc.Source,
			"fields":        desc.Fields,
			"geometry_type": desc.GeometryType,
		}
		if err := idx.Upsert(entry.DataID, vec, meta, entry.Tags, 0); err != nil {
			return ferrors.Wrap("schemaindex.UpdateIndex", ferrors.ErrBackend, err)
		}
	}
	return nil
}

// UpdateAllIndexes rebuilds every tier's schema index.
func (si *Index) UpdateAllIndexes(ctx context.Context) error {
	for _, tier := range []catalog.Tier{catalog.TierRedHot, catalog.TierHot, catalog.TierWarm, catalog.TierCold, catalog.TierGlacier} {
		if err := si.UpdateIndex(ctx, tier); err != nil {
			return err
		}
	}
	return nil
}

// Search vectorises query and searches the requested tiers (all five, in
// the default order, when tiers is empty), returning hits sorted by
// ascending distance across all searched tiers combined.
func (si *Index) Search(ctx context.Context, query string, tiers []catalog.Tier, k int) ([]Hit, error) {
	if len(tiers) == 0 {
		tiers = []catalog.Tier{catalog.TierRedHot, catalog.TierHot, catalog.TierWarm, catalog.TierCold, catalog.TierGlacier}
	}
	vec, err := si.encoder.Embed(ctx, query)
	if err != nil {
		return nil, ferrors.Wrap("schemaindex.Search", ferrors.ErrBackend, err)
	}

	var hits []Hit
	for _, tier := range tiers {
		idx, ok := si.tiers[tier]
		if !ok {
			continue
		}
		found, err := idx.Search(vec, k, nil)
		if err != nil {
			return nil, ferrors.Wrap("schemaindex.Search", ferrors.ErrBackend, err)
		}
		for _, h := range found {
			entry, _ := si.cat.Get(ctx, h.Key)
			hits = append(hits, Hit{
				Tier:     tier,
				DataID:   h.Key,
				Distance: h.Distance,
				Descriptor: Descriptor{
					TypeTag:      stringMeta(h.Metadata, "type_tag"),
					Source:       stringMeta(h.Metadata, "source"),
					GeometryType: stringMeta(h.Metadata, "geometry_type"),
					Fields:       sliceMeta(h.Metadata, "fields"),
				},
				Catalog: entry,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits, nil
}

// Cleanup releases every per-tier index's in-process resources (flushing
// any with an on-disk mirror configured).
func (si *Index) Cleanup() error {
	var firstErr error
	for _, idx := range si.tiers {
		if err := idx.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func stringMeta(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func sliceMeta(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]string)
	return s
}

type tierErr struct{ tier catalog.Tier }

func (e tierErr) Error() string { return "tier " + string(e.tier) + " is not a recognised tier" }

func errTier(tier catalog.Tier) error { return tierErr{tier: tier} }
