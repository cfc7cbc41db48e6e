// Package tiering implements the fabric's adjacent-tier promotion rules
// (spec §4.10): data moves exactly one tier warmer at a time
// (glacier -> cold -> warm -> hot -> red_hot), converting its shape as it
// crosses each boundary. Grounded on
// original_source/memories/core/memory_tiering.py for the per-pair
// conversion rules (DataFrame-or-fallback on glacier->cold, base64
// fallback, vector-shape check on hot->red_hot).
package tiering

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/coldmem"
	"github.com/corticore/fabric/internal/dispatch"
	"github.com/corticore/fabric/internal/ferrors"
)

// tierRank orders the five tiers from coldest (0) to hottest (4).
// Promotion only ever moves from rank N to rank N+1.
var tierRank = map[catalog.Tier]int{
	catalog.TierGlacier: 0,
	catalog.TierCold:    1,
	catalog.TierWarm:    2,
	catalog.TierHot:     3,
	catalog.TierRedHot:  4,
}

// PromoteRequest carries the tier-specific addressing a promotion needs.
// Only the fields relevant to sourceTier/targetTier are consulted.
type PromoteRequest struct {
	SourceTier catalog.Tier
	TargetTier catalog.Tier

	// glacier -> cold
	Connector string
	Key       string

	// cold -> warm
	ColdDataID string
	WarmDBName string
	TableName  string

	// warm -> hot
	WarmDataID string
	HotKey     string

	// hot -> red-hot
	Tags []string
}

// PromoteToTier validates req's tiers are adjacent and moving warmer, then
// dispatches to the matching conversion. Same-tier, colder-target, and
// non-adjacent requests are all rejected with ErrInvalidPromotion.
func PromoteToTier(ctx context.Context, deps dispatch.Dependencies, req PromoteRequest) (string, error) {
	if !catalog.ValidTier(req.SourceTier) || !catalog.ValidTier(req.TargetTier) {
		return "", ferrors.Wrap("tiering.PromoteToTier", ferrors.ErrTierUnknown, errUnknownTier{req.SourceTier, req.TargetTier})
	}
	if tierRank[req.TargetTier] != tierRank[req.SourceTier]+1 {
		return "", ferrors.Wrap("tiering.PromoteToTier", ferrors.ErrInvalidPromotion, errNonAdjacent{req.SourceTier, req.TargetTier})
	}

	switch {
	case req.SourceTier == catalog.TierGlacier && req.TargetTier == catalog.TierCold:
		return GlacierToCold(ctx, deps, req.Connector, req.Key, req.Tags)
	case req.SourceTier == catalog.TierCold && req.TargetTier == catalog.TierWarm:
		return ColdToWarm(ctx, deps, req.ColdDataID, req.WarmDBName, req.TableName, req.Tags)
	case req.SourceTier == catalog.TierWarm && req.TargetTier == catalog.TierHot:
		return WarmToHot(ctx, deps, req.WarmDataID, req.WarmDBName, req.HotKey)
	case req.SourceTier == catalog.TierHot && req.TargetTier == catalog.TierRedHot:
		return HotToRedHot(ctx, deps, req.HotKey, req.Tags)
	default:
		return "", ferrors.Wrap("tiering.PromoteToTier", ferrors.ErrInvalidPromotion, errNonAdjacent{req.SourceTier, req.TargetTier})
	}
}

// GlacierToCold fetches an object (or data-source result) from glacier and
// stores it as a cold DataFrame. A *coldmem.DataFrame result stores
// directly; a mapping or list-of-mappings is converted; anything else
// falls back to a single-row DataFrame holding its JSON (or base64, for
// raw bytes that aren't valid UTF-8/JSON) encoding.
func GlacierToCold(ctx context.Context, deps dispatch.Dependencies, connector, key string, tags []string) (string, error) {
	raw, err := deps.Glacier.Retrieve(ctx, connector, key)
	if err != nil {
		return "", err
	}

	df, err := toDataFrame(raw)
	if err != nil {
		return "", ferrors.Wrap("tiering.GlacierToCold", ferrors.ErrBackend, err)
	}

	metadata := map[string]any{
		"promoted_from": string(catalog.TierGlacier),
		"connector":     connector,
		"original_key":  key,
	}
	return deps.Cold.StoreFrame(ctx, df, metadata, ferrors.NormalizeTags(tags))
}

// toDataFrame implements spec §4.10's glacier->cold conversion ladder.
func toDataFrame(raw any) (*coldmem.DataFrame, error) {
	switch v := raw.(type) {
	case *coldmem.DataFrame:
		return v, nil
	case map[string]any:
		return coldmem.FromMap(v), nil
	case []any:
		if df, ok := dataFrameFromList(v); ok {
			return df, nil
		}
		return jsonFallback(v)
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return toDataFrame(decoded)
		}
		return coldmem.FromMap(map[string]any{"data": v}), nil
	case []byte:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			return toDataFrame(decoded)
		}
		return coldmem.FromMap(map[string]any{
			"data":     base64.StdEncoding.EncodeToString(v),
			"encoding": "base64",
		}), nil
	default:
		return jsonFallback(v)
	}
}

// dataFrameFromList builds a multi-row DataFrame when every element of
// rows is a mapping with the same key set; otherwise it declines so the
// caller falls back to a JSON-blob DataFrame.
func dataFrameFromList(rows []any) (*coldmem.DataFrame, bool) {
	if len(rows) == 0 {
		return coldmem.NewDataFrame(nil, nil), true
	}
	first, ok := rows[0].(map[string]any)
	if !ok {
		return nil, false
	}
	columns := make([]string, 0, len(first))
	for k := range first {
		columns = append(columns, k)
	}
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok || len(m) != len(columns) {
			return nil, false
		}
		row := make([]any, len(columns))
		for i, c := range columns {
			v, present := m[c]
			if !present {
				return nil, false
			}
			row[i] = v
		}
		out = append(out, row)
	}
	return coldmem.NewDataFrame(columns, out), true
}

// jsonFallback marshals v and wraps it as a single-row DataFrame, the
// last-resort shape spec §4.10 describes for values that can't be
// converted any other way.
func jsonFallback(v any) (*coldmem.DataFrame, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return coldmem.FromMap(map[string]any{"data": string(encoded)}), nil
}

// ColdToWarm retrieves a cold DataFrame and stores it as a named warm
// table: table_name is always supplied by the caller, not generated.
func ColdToWarm(ctx context.Context, deps dispatch.Dependencies, coldDataID, dbName, tableName string, tags []string) (string, error) {
	df, meta, err := deps.Cold.Retrieve(ctx, coldDataID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["promoted_from"] = string(catalog.TierCold)
	meta["source_data_id"] = coldDataID

	result, err := deps.Warm.StoreRecordAsTable(ctx, df, meta, ferrors.NormalizeTags(tags), dbName, tableName)
	if err != nil {
		return "", err
	}
	if deps.Catalog != nil {
		metaJSON, jerr := json.Marshal(meta)
		if jerr != nil {
			return "", ferrors.Wrap("tiering.ColdToWarm", ferrors.ErrBackend, jerr)
		}
		if _, cerr := deps.Catalog.Register(ctx, catalog.TierWarm, result.DataID, 0, "record", tags, string(metaJSON)); cerr != nil {
			return "", cerr
		}
	}
	return result.DataID, nil
}

// WarmToHot retrieves a warm record by data_id and stores its payload
// under a hot key.
func WarmToHot(ctx context.Context, deps dispatch.Dependencies, warmDataID, dbName, hotKey string) (string, error) {
	rec, err := deps.Warm.GetRecord(ctx, warmDataID, dbName)
	if err != nil {
		return "", err
	}
	created, err := deps.Hot.Create(ctx, hotKey, rec.Data, 0)
	if err != nil {
		return "", err
	}
	if !created {
		return "", ferrors.Wrap("tiering.WarmToHot", ferrors.ErrBackend, errKeyExists{hotKey})
	}
	if deps.Catalog != nil {
		metaJSON, _ := json.Marshal(rec.Metadata)
		if _, err := deps.Catalog.Register(ctx, catalog.TierHot, hotKey, int64(len(metaJSON)), "dict", rec.Tags, string(metaJSON)); err != nil {
			return "", err
		}
	}
	return hotKey, nil
}

// HotToRedHot retrieves a hot value and, if it is vector-shaped, stores
// it into red-hot under the same key. A value whose shape isn't a
// numeric array is rejected with ErrNotVectorisable rather than silently
// dropped or coerced.
func HotToRedHot(ctx context.Context, deps dispatch.Dependencies, hotKey string, tags []string) (string, error) {
	value, found, err := deps.Hot.Read(ctx, hotKey)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ferrors.Wrap("tiering.HotToRedHot", ferrors.ErrNotFound, errKeyMissing{hotKey})
	}

	vec, ok := asVector(value)
	if !ok {
		return "", ferrors.Wrap("tiering.HotToRedHot", ferrors.ErrNotVectorisable, errNotVector{hotKey})
	}

	metadata := map[string]any{"promoted_from": string(catalog.TierHot)}
	if err := deps.RedHot.StoreVector(ctx, hotKey, vec, metadata, ferrors.NormalizeTags(tags)); err != nil {
		return "", err
	}
	return hotKey, nil
}

func asVector(v any) ([]float32, bool) {
	switch t := v.(type) {
	case []float32:
		return t, true
	case []any:
		out := make([]float32, len(t))
		for i, e := range t {
			f, ok := toFloat32(e)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	case int:
		return float32(n), true
	default:
		return 0, false
	}
}

type errUnknownTier struct{ source, target catalog.Tier }

func (e errUnknownTier) Error() string {
	return "tiering: unknown tier in promotion " + string(e.source) + " -> " + string(e.target)
}

type errNonAdjacent struct{ source, target catalog.Tier }

func (e errNonAdjacent) Error() string {
	return "tiering: " + string(e.source) + " -> " + string(e.target) + " is not an adjacent warmward promotion"
}

type errKeyExists struct{ key string }

func (e errKeyExists) Error() string { return "tiering: hot key " + e.key + " already exists" }

type errKeyMissing struct{ key string }

func (e errKeyMissing) Error() string { return "tiering: hot key " + e.key + " not found" }

type errNotVector struct{ key string }

func (e errNotVector) Error() string {
	return "tiering: hot value at " + e.key + " is not vectorisable"
}
