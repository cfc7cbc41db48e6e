// Package search implements the fabric's prioritised cross-tier search
// (spec §4.11): walk tiers latency-first, stop at the first tier whose
// schema-index hits clear a caller-supplied similarity threshold, then
// enrich the winning hits with catalog/location/capability metadata.
// Grounded on original_source/memories/core/memory_retrieval.py for the
// tier-walk-and-stop-at-first-hit algorithm and the capability-token
// table.
package search

import (
	"context"
	"strings"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/schemaindex"
)

// defaultOrder is the latency-ascending tier walk order spec §4.11 fixes.
var defaultOrder = []catalog.Tier{
	catalog.TierRedHot,
	catalog.TierHot,
	catalog.TierWarm,
	catalog.TierCold,
	catalog.TierGlacier,
}

// Capability is one entry of a hit's query_capabilities descriptor: the
// capability name plus a handful of advisory example query templates.
// This is metadata only — nothing in the fabric enforces it.
type Capability struct {
	Name      string
	Templates []string
}

// EnrichedHit is a schemaindex.Hit augmented with the fields
// get_enhanced_metadata adds: the split location, schema columns, and
// derived query capabilities.
type EnrichedHit struct {
	schemaindex.Hit
	DatabaseName      string
	TableName         string
	QueryCapabilities []Capability
}

// Searcher runs prioritised search over a schema index.
type Searcher struct {
	index *schemaindex.Index
}

// New wraps a schema index for prioritised search.
func New(index *schemaindex.Index) *Searcher {
	return &Searcher{index: index}
}

// Search walks tiers (defaultOrder unless tiers is non-empty) calling
// schemaindex.Search one tier at a time, accepting hits with
// distance <= 1-threshold, and stopping at the first tier with any
// accepted hits. Returns the accepted, enriched hits from that tier
// alone — colder tiers are never consulted once a hit is found.
func (s *Searcher) Search(ctx context.Context, query string, tiers []catalog.Tier, k int, threshold float32) ([]EnrichedHit, error) {
	if len(tiers) == 0 {
		tiers = defaultOrder
	}
	maxDistance := 1 - threshold

	for _, tier := range tiers {
		hits, err := s.index.Search(ctx, query, []catalog.Tier{tier}, k)
		if err != nil {
			return nil, err
		}
		accepted := make([]schemaindex.Hit, 0, len(hits))
		for _, h := range hits {
			if h.Distance <= maxDistance {
				accepted = append(accepted, h)
			}
		}
		if len(accepted) > 0 {
			return enrich(accepted), nil
		}
	}
	return nil, nil
}

// GetEnhancedMetadata enriches already-retrieved hits without re-running
// the tier walk, for callers who already have schemaindex.Hit values
// (e.g. a direct schemaindex.Search call) and just want the derived
// fields.
func GetEnhancedMetadata(hits []schemaindex.Hit) []EnrichedHit {
	return enrich(hits)
}

func enrich(hits []schemaindex.Hit) []EnrichedHit {
	out := make([]EnrichedHit, len(hits))
	for i, h := range hits {
		e := EnrichedHit{Hit: h}
		if h.Catalog != nil {
			if db, table, ok := splitLocation(h.Catalog.Location); ok {
				e.DatabaseName, e.TableName = db, table
			}
		}
		e.QueryCapabilities = capabilitiesFor(h.Descriptor.Fields)
		out[i] = e
	}
	return out
}

// splitLocation splits a "database/table" location into its two parts.
// Locations without a '/' separator (the common case for non-warm tiers)
// report ok=false and leave both fields empty.
func splitLocation(location string) (db, table string, ok bool) {
	idx := strings.IndexByte(location, '/')
	if idx < 0 {
		return "", "", false
	}
	return location[:idx], location[idx+1:], true
}

// capabilityTokens maps each capability to the column-name substrings
// that trigger it (spec §4.11 table).
var capabilityTokens = map[string][]string{
	"spatial_query": {"geom", "geometry", "point", "polygon", "location", "coordinate", "lat", "lon"},
	"text_search":   {"name", "title", "description", "text", "comment"},
	"time_series":   {"time", "date", "timestamp", "created", "updated"},
	"aggregation":   {"id", "count", "amount", "value", "number", "total", "sum", "price"},
}

// capabilityTemplates gives a couple of advisory example queries per
// capability — illustrative metadata only, never executed by the fabric.
var capabilityTemplates = map[string][]string{
	"spatial_query": {"find records within 5km of (lat, lon)", "features intersecting this polygon"},
	"text_search":   {"records where name contains '...'", "full-text match on description"},
	"time_series":   {"records between <start> and <end>", "latest record by timestamp"},
	"aggregation":   {"sum(value) grouped by ...", "count(*) where amount > ..."},
}

// capabilitiesFor inspects fields for capability-triggering tokens and
// returns the matching capabilities in a fixed, deterministic order.
func capabilitiesFor(fields []string) []Capability {
	lower := make([]string, len(fields))
	for i, f := range fields {
		lower[i] = strings.ToLower(f)
	}

	var out []Capability
	for _, name := range []string{"spatial_query", "text_search", "time_series", "aggregation"} {
		if anyFieldMatches(lower, capabilityTokens[name]) {
			out = append(out, Capability{Name: name, Templates: capabilityTemplates[name]})
		}
	}
	return out
}

func anyFieldMatches(fields, tokens []string) bool {
	for _, f := range fields {
		for _, tok := range tokens {
			if strings.Contains(f, tok) {
				return true
			}
		}
	}
	return false
}
