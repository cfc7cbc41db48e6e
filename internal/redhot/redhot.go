// Package redhot implements the in-process nearest-neighbour tier (spec
// §4.2): fixed-dimension float vectors with metadata/tag filtering, backed
// by internal/vectorindex and registered in the shared catalog. Grounded
// on the teacher's internal/storage/ephemeral store for the "wrap a
// simple in-process structure, flush on a schedule" shape.
package redhot

import (
	"context"
	"time"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/vectorindex"
)

// Hit mirrors vectorindex.Hit at the component boundary.
type Hit struct {
	Key       string
	Distance  float32
	Metadata  map[string]any
	Tags      []string
	CreatedAt time.Time
}

// Schema describes a red-hot artifact's shape (spec §4.2 get_schema).
type Schema struct {
	Dimension int
	Type      string
	Source    string
	Metadata  map[string]any
	Tags      []string
}

// Store is the red-hot tier: an in-process vector index plus a catalog
// registration per stored key.
type Store struct {
	idx     *vectorindex.Index
	cat     *catalog.Catalog
	maxSize int
}

// New wraps an existing vectorindex.Index (owned by the memory manager)
// with catalog registration. maxSize of 0 means unbounded.
func New(idx *vectorindex.Index, cat *catalog.Catalog, maxSize int) *Store {
	return &Store{idx: idx, cat: cat, maxSize: maxSize}
}

// StoreVector appends vector under key, evicting the oldest live entry
// first if the tier is at capacity. Catalog registration happens after the
// index write succeeds.
func (s *Store) StoreVector(ctx context.Context, key string, vector []float32, metadata map[string]any, tags []string) error {
	tags = ferrors.NormalizeTags(tags)
	if err := s.idx.Upsert(key, vector, metadata, tags, s.maxSize); err != nil {
		return ferrors.Wrap("redhot.StoreVector", ferrors.ErrDimensionMismatch, err)
	}
	if s.cat != nil {
		if _, err := s.cat.Register(ctx, catalog.TierRedHot, key, int64(len(vector)*4), "vector", tags, ""); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve runs L2 kNN search over the index, returning up to k hits.
func (s *Store) Retrieve(query []float32, k int, tags []string) ([]Hit, error) {
	hits, err := s.idx.Search(query, k, ferrors.NormalizeTags(tags))
	if err != nil {
		return nil, ferrors.Wrap("redhot.Retrieve", ferrors.ErrDimensionMismatch, err)
	}
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{Key: h.Key, Distance: h.Distance, Metadata: h.Metadata, Tags: h.Tags, CreatedAt: h.CreatedAt}
	}
	return out, nil
}

// Delete tombstones key and reports whether it was live.
func (s *Store) Delete(key string) bool {
	return s.idx.Delete(key)
}

// Clear drops every vector and re-initialises the index.
func (s *Store) Clear() {
	s.idx.Clear()
}

// GetSchema reports the shape of a stored vector.
func (s *Store) GetSchema(vectorID string, metadata map[string]any, tags []string) Schema {
	return Schema{
		Dimension: s.idx.Dim(),
		Type:      "vector",
		Source:    "faiss",
		Metadata:  metadata,
		Tags:      tags,
	}
}

// Flush persists the index to disk.
func (s *Store) Flush() error {
	return s.idx.Flush()
}
