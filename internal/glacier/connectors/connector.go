// Package connectors implements the glacier tier's pluggable backends
// (spec §4.6): object-store connectors (S3, Azure Blob, GCS) and a family
// of read-only data-source stubs recovered from
// original_source/memories/core/glacier. The fabric's job is limited to
// the factory/lookup contract for data sources — actual remote fetch
// logic for sentinel/landsat/planetary/osm/overture is explicitly out of
// scope (spec §4.6 Non-goals), so those stubs return
// ferrors.ErrNotImplemented from Fetch while still answering GetSchema.
package connectors

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/corticore/fabric/internal/ferrors"
)

// ObjectMetadata describes a stored object (spec §4.6 list_objects).
type ObjectMetadata struct {
	Key         string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// ObjectConnector is the interface every object-store-shaped glacier
// connector satisfies.
type ObjectConnector interface {
	Store(ctx context.Context, key string, data any, metadata map[string]any) (string, error)
	Retrieve(ctx context.Context, key string) (any, error)
	ListObjects(ctx context.Context, prefix string) ([]ObjectMetadata, error)
	Delete(ctx context.Context, key string) (bool, error)
	Cleanup() error
}

// DataSourceConnector is the read-only interface for domain-specific
// external sources (spec §4.6 family 2).
type DataSourceConnector interface {
	GetSchema(ctx context.Context, source string, spatialInput any, spatialInputType string) (map[string]any, error)
	Fetch(ctx context.Context, source string, spatialInput any, spatialInputType string, temporalInput any) (any, error)
}

// decodeRetrieved implements the three-step decode order from spec §4.6:
// try JSON, then UTF-8 string, then raw bytes.
func decodeRetrieved(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return raw
}

// --- stub data sources ---------------------------------------------------

// stubSource is a read-only data source whose real fetch logic lives
// outside the fabric's scope. It answers GetSchema with a static
// descriptor (grounded on the field names used in
// memories/core/glacier/artifacts/landsat.py's stored metadata) and
// refuses Fetch.
type stubSource struct {
	name   string
	schema map[string]any
}

func newStubSource(name string, schema map[string]any) *stubSource {
	return &stubSource{name: name, schema: schema}
}

func (s *stubSource) GetSchema(_ context.Context, source string, _ any, _ string) (map[string]any, error) {
	out := make(map[string]any, len(s.schema)+1)
	for k, v := range s.schema {
		out[k] = v
	}
	out["source"] = source
	return out, nil
}

func (s *stubSource) Fetch(_ context.Context, _ string, _ any, _ string, _ any) (any, error) {
	return nil, ferrors.Wrap("connectors."+s.name+".Fetch", ferrors.ErrNotImplemented, errNotWired)
}

var errNotWired = &notWiredError{}

type notWiredError struct{}

func (*notWiredError) Error() string {
	return "data source fetch is a pluggable external collaborator, not implemented by the fabric"
}

// NewSentinelSource returns the Sentinel-2 data-source stub (grounded on
// memories/data_acquisition/sources/sentinel_api.py's field naming).
func NewSentinelSource() DataSourceConnector {
	return newStubSource("sentinel", map[string]any{
		"type":       "raster",
		"collection": "sentinel-2-l2a",
		"fields":     []string{"bbox", "datetime", "cloud_cover", "bands"},
	})
}

// NewLandsatSource returns the Landsat data-source stub (grounded on
// memories/core/glacier/artifacts/landsat.py).
func NewLandsatSource() DataSourceConnector {
	return newStubSource("landsat", map[string]any{
		"type":       "raster",
		"collection": "landsat-c2-l2",
		"fields":     []string{"bbox", "datetime", "cloud_cover", "platform", "instrument", "processing_level"},
	})
}

// NewPlanetarySource returns the Microsoft Planetary Computer STAC
// data-source stub.
func NewPlanetarySource() DataSourceConnector {
	return newStubSource("planetary", map[string]any{
		"type":   "stac_catalog",
		"fields": []string{"bbox", "datetime", "collection"},
	})
}

// NewOSMSource returns the OpenStreetMap vector data-source stub.
func NewOSMSource() DataSourceConnector {
	return newStubSource("osm", map[string]any{
		"type":   "vector",
		"fields": []string{"bbox", "tags"},
	})
}

// NewOvertureSource returns the Overture Maps vector data-source stub.
func NewOvertureSource() DataSourceConnector {
	return newStubSource("overture", map[string]any{
		"type":   "vector",
		"fields": []string{"bbox", "theme", "type"},
	})
}
