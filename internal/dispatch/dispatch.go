// Package dispatch implements the fabric's store/retrieve entry points
// (spec §4.8): validate to_tier/from_tier against the closed set, coerce
// the caller's payload into the tier's expected shape, and call the
// matching tier component. No single teacher file does this exact
// dispatch-by-closed-set shape; it is grounded on the teacher's
// configfile-style discriminated handling (explicit, field-by-field
// coercion rather than duck typing) generalized from one config document
// to five storage tiers.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/coldmem"
	"github.com/corticore/fabric/internal/ferrors"
	"github.com/corticore/fabric/internal/glacier"
	"github.com/corticore/fabric/internal/hotmem"
	"github.com/corticore/fabric/internal/redhot"
	"github.com/corticore/fabric/internal/warmmem"
)

// PayloadKind discriminates the sum type every dispatcher coerces
// caller-supplied data into before handing it to a tier component.
type PayloadKind int

const (
	KindMap PayloadKind = iota
	KindSequence
	KindArray
	KindDataFrame
	KindBytes
	KindString
)

// Payload replaces the source's duck-typed "anything JSON-like" argument
// with an explicit sum type (spec Design Note "Duck-typed payloads").
type Payload struct {
	Kind  PayloadKind
	Map   map[string]any
	Seq   []any
	Array []float32
	Frame *coldmem.DataFrame
	Bytes []byte
	Str   string
}

// NewPayload coerces an arbitrary caller argument into a Payload. []float32
// and []float64 coerce into KindArray; any other JSON-marshalable value
// that isn't one of the concrete cases below is round-tripped through
// encoding/json and becomes KindMap, KindSequence or KindString by the
// decoded shape. Values that decode to a JSON number, boolean or null
// have no payload kind and are rejected.
func NewPayload(v any) (Payload, error) {
	switch t := v.(type) {
	case map[string]any:
		return Payload{Kind: KindMap, Map: t}, nil
	case []any:
		return Payload{Kind: KindSequence, Seq: t}, nil
	case []float32:
		return Payload{Kind: KindArray, Array: t}, nil
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return Payload{Kind: KindArray, Array: out}, nil
	case *coldmem.DataFrame:
		return Payload{Kind: KindDataFrame, Frame: t}, nil
	case []byte:
		return Payload{Kind: KindBytes, Bytes: t}, nil
	case string:
		return Payload{Kind: KindString, Str: t}, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Payload{}, ferrors.Wrap("dispatch.NewPayload", ferrors.ErrBackend,
				fmt.Errorf("value of type %T is not coercible to any payload kind: %w", v, err))
		}
		var decoded any
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return Payload{}, ferrors.Wrap("dispatch.NewPayload", ferrors.ErrBackend, err)
		}
		switch decoded.(type) {
		case map[string]any, []any, string:
			return NewPayload(decoded)
		}
		return Payload{}, ferrors.Wrap("dispatch.NewPayload", ferrors.ErrBackend,
			fmt.Errorf("value of type %T is not coercible to any payload kind", v))
	}
}

// asVector coerces a payload into a fixed-dimension float32 vector for the
// red-hot tier, rejecting shapes that aren't numeric arrays.
func (p Payload) asVector() ([]float32, error) {
	switch p.Kind {
	case KindArray:
		return p.Array, nil
	case KindSequence:
		out := make([]float32, len(p.Seq))
		for i, v := range p.Seq {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("element %d of sequence is not numeric", i)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payload kind %d is not vector-shaped", p.Kind)
	}
}

func toFloat(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	default:
		return 0, false
	}
}

// asJSONEncodable returns the value the hot/glacier tiers should persist
// verbatim: any payload kind works, since both tiers accept "any
// JSON-encodable" per spec §4.8.
func (p Payload) asJSONEncodable() any {
	switch p.Kind {
	case KindMap:
		return p.Map
	case KindSequence:
		return p.Seq
	case KindArray:
		return p.Array
	case KindDataFrame:
		return p.Frame
	case KindBytes:
		return p.Bytes
	case KindString:
		return p.Str
	default:
		return nil
	}
}

// asDataFrame coerces a payload into a *coldmem.DataFrame for the cold
// tier, building one from a map via the same from_dict rule coldmem itself
// uses for row-shaped data.
func (p Payload) asDataFrame() (*coldmem.DataFrame, error) {
	switch p.Kind {
	case KindDataFrame:
		return p.Frame, nil
	case KindMap:
		return coldmem.FromMap(p.Map), nil
	default:
		return nil, fmt.Errorf("payload kind %d does not convert to a DataFrame", p.Kind)
	}
}

// Dependencies bundles the tier components a dispatcher call needs. The
// memory manager constructs one of these from its own fields; dispatch
// never imports internal/manager to avoid a cycle.
type Dependencies struct {
	Catalog *catalog.Catalog
	RedHot  *redhot.Store
	Hot     *hotmem.Store
	Warm    *warmmem.Store
	Cold    *coldmem.Store
	Glacier *glacier.Facade
}

// StoreOptions carries the tier-specific knobs the flat spec contract
// folds into "metadata": which warm database to use, whether a DataFrame
// becomes its own warm table, and which glacier connector to target.
type StoreOptions struct {
	DBName       string
	WarmOwnTable bool
	Connector    string
}

// Store validates toTier against the closed set, coerces data into that
// tier's accepted shape, and calls the matching tier component. key
// identifies the artifact for tiers that address by key (red-hot, hot,
// glacier); warm and cold generate their own data_id and key is ignored.
func Store(ctx context.Context, deps Dependencies, toTier catalog.Tier, key string, data any, metadata map[string]any, tags []string, opts StoreOptions) (string, error) {
	if !catalog.ValidTier(toTier) {
		return "", ferrors.Wrap("dispatch.Store", ferrors.ErrTierUnknown, fmt.Errorf("tier %q", toTier))
	}
	tags = ferrors.NormalizeTags(tags)

	payload, err := NewPayload(data)
	if err != nil {
		return "", err
	}

	switch toTier {
	case catalog.TierRedHot:
		vec, verr := payload.asVector()
		if verr != nil {
			return "", ferrors.Wrap("dispatch.Store", ferrors.ErrDimensionMismatch, verr)
		}
		if err := deps.RedHot.StoreVector(ctx, key, vec, metadata, tags); err != nil {
			return "", err
		}
		return key, nil

	case catalog.TierHot:
		created, err := deps.Hot.Create(ctx, key, payload.asJSONEncodable(), 0)
		if err != nil {
			return "", err
		}
		if !created {
			return "", ferrors.Wrap("dispatch.Store", ferrors.ErrBackend, fmt.Errorf("hot key %q already exists", key))
		}
		if deps.Catalog != nil {
			if _, cerr := registerSideCatalog(ctx, deps.Catalog, catalog.TierHot, key, metadata, tags, "json"); cerr != nil {
				return "", cerr
			}
		}
		return key, nil

	case catalog.TierWarm:
		switch payload.Kind {
		case KindMap, KindSequence, KindArray, KindDataFrame:
		default:
			return "", ferrors.Wrap("dispatch.Store", ferrors.ErrBackend,
				fmt.Errorf("warm tier does not accept payload kind %d", payload.Kind))
		}
		result, err := deps.Warm.StoreRecord(ctx, payload.asJSONEncodable(), metadata, tags, opts.DBName, opts.WarmOwnTable)
		if err != nil {
			return "", err
		}
		if deps.Catalog != nil {
			if _, cerr := registerSideCatalog(ctx, deps.Catalog, catalog.TierWarm, result.DataID, metadata, tags, "record"); cerr != nil {
				return "", cerr
			}
		}
		return result.DataID, nil

	case catalog.TierCold:
		df, derr := payload.asDataFrame()
		if derr != nil {
			return "", ferrors.Wrap("dispatch.Store", ferrors.ErrBackend, derr)
		}
		return deps.Cold.StoreFrame(ctx, df, metadata, tags)

	case catalog.TierGlacier:
		var body any
		switch payload.Kind {
		case KindBytes:
			body = payload.Bytes
		case KindString:
			body = payload.Str
		default:
			body = payload.asJSONEncodable()
		}
		return deps.Glacier.Store(ctx, opts.Connector, key, body, metadata)
	}

	return "", ferrors.Wrap("dispatch.Store", ferrors.ErrTierUnknown, fmt.Errorf("tier %q", toTier))
}

// registerSideCatalog records a catalog entry for tiers (hot, warm) that
// don't register themselves, mirroring the invariant that every
// successful store leaves exactly one catalog entry behind.
func registerSideCatalog(ctx context.Context, cat *catalog.Catalog, tier catalog.Tier, location string, metadata map[string]any, tags []string, dataType string) (string, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", ferrors.Wrap("dispatch.registerSideCatalog", ferrors.ErrBackend, err)
	}
	return cat.Register(ctx, tier, location, 0, dataType, tags, string(metaJSON))
}

// RetrieveRequest is the cross-cutting read contract of spec §4.8:
// for glacier, Source dispatches to a named data-source connector;
// for the other tiers, Tags/SpatialInput/TemporalInput filter the read.
type RetrieveRequest struct {
	FromTier         catalog.Tier
	Source           string
	SpatialInputType string
	SpatialInput     any
	Tags             []string
	TemporalInput    any

	// DBName, Key and K let the flat request cover tier-specific reads
	// (warm database name, hot/red-hot key, red-hot neighbour count)
	// without five different function signatures.
	DBName string
	Key    string
	K      int
}

// Retrieve performs the cross-cutting read described in spec §4.8.
func Retrieve(ctx context.Context, deps Dependencies, req RetrieveRequest) (any, error) {
	if !catalog.ValidTier(req.FromTier) {
		return nil, ferrors.Wrap("dispatch.Retrieve", ferrors.ErrTierUnknown, fmt.Errorf("tier %q", req.FromTier))
	}

	if req.FromTier == catalog.TierGlacier {
		// A spatial input type selects the domain-specific data-source
		// path (source names a connector like "landsat"); its absence
		// means a plain object-store read keyed by req.Key, with source
		// naming the object connector.
		if req.SpatialInputType != "" {
			return deps.Glacier.Fetch(ctx, req.Source, req.SpatialInput, req.SpatialInputType, req.TemporalInput)
		}
		return deps.Glacier.Retrieve(ctx, req.Source, req.Key)
	}

	if req.SpatialInputType != "" {
		return nil, ferrors.Wrap("dispatch.Retrieve", ferrors.ErrUnsupportedSpatialInput,
			fmt.Errorf("tier %q does not support spatial input type %q", req.FromTier, req.SpatialInputType))
	}

	tags := ferrors.NormalizeTags(req.Tags)

	switch req.FromTier {
	case catalog.TierRedHot:
		vec, ok := req.SpatialInput.([]float32)
		if !ok {
			return nil, ferrors.Wrap("dispatch.Retrieve", ferrors.ErrDimensionMismatch,
				fmt.Errorf("red-hot retrieve requires a []float32 query vector"))
		}
		k := req.K
		if k <= 0 {
			k = 10
		}
		return deps.RedHot.Retrieve(vec, k, tags)

	case catalog.TierHot:
		value, ok, err := deps.Hot.Read(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ferrors.Wrap("dispatch.Retrieve", ferrors.ErrNotFound, fmt.Errorf("key %q", req.Key))
		}
		return value, nil

	case catalog.TierWarm:
		query, _ := req.SpatialInput.(map[string]any)
		return deps.Warm.Retrieve(ctx, tags, query, req.DBName)

	case catalog.TierCold:
		df, meta, err := deps.Cold.Retrieve(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"data": df, "metadata": meta}, nil
	}

	return nil, ferrors.Wrap("dispatch.Retrieve", ferrors.ErrTierUnknown, fmt.Errorf("tier %q", req.FromTier))
}
