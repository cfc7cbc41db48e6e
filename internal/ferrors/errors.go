// Package ferrors defines the tier-agnostic error taxonomy shared by every
// memory-fabric component (spec §7). Components never swallow backend
// errors; they wrap them with context via fmt.Errorf("%w") so callers can
// still unwrap to a sentinel with errors.Is.
package ferrors

import "errors"

// Sentinel error kinds. These are stable across tiers: a caller can test
// for any of them with errors.Is regardless of which component raised it.
var (
	// ErrConfigInvalid indicates missing or ill-typed configuration.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrTierUnknown indicates a to_tier/from_tier value outside the closed set.
	ErrTierUnknown = errors.New("unknown tier")

	// ErrConnectorUnknown indicates a glacier connector name that isn't registered.
	ErrConnectorUnknown = errors.New("unknown connector")

	// ErrDimensionMismatch indicates a red-hot vector of the wrong dimension or dtype.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNotFound indicates a key/data_id absent in its tier. Not fatal for
	// best-effort reads.
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates an external-store call exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrBackend indicates the underlying store returned an error.
	ErrBackend = errors.New("backend error")

	// ErrInvalidPromotion indicates a same-tier or colder-target promotion request.
	ErrInvalidPromotion = errors.New("invalid promotion")

	// ErrNotVectorisable indicates a hot->red-hot promotion on a non-array value.
	ErrNotVectorisable = errors.New("value is not vectorisable")

	// ErrUnsupportedSpatialInput indicates a spatial input type unknown to the source.
	ErrUnsupportedSpatialInput = errors.New("unsupported spatial input")

	// ErrNotImplemented marks an out-of-scope pluggable connector operation
	// (spec treats these as external collaborators; the fabric only fixes
	// their factory/lookup contract).
	ErrNotImplemented = errors.New("not implemented")
)

// Wrap attaches an operation label to err, preserving errors.Is/As for the
// sentinel taxonomy. Mirrors the teacher's wrapDBError convention
// (internal/storage/sqlite/errors.go in the source tree this was adapted
// from), generalized from sql.ErrNoRows to the full taxonomy above.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{op: op, kind: kind, cause: err}
}

type wrapped struct {
	op    string
	kind  error
	cause error
}

func (w *wrapped) Error() string {
	return w.op + ": " + w.kind.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.cause}
}

// NormalizeTags resolves the spec's tags-defaulting open question: a nil
// tag slice is always treated as empty before any membership check, never
// indexed into directly.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
