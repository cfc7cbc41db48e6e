package coldmem

// ColumnType is the closed set of column types a DataFrame can carry.
// Grounded on the "describe columns without loading payloads" contract
// (spec §4.5) — we only ever need to distinguish these at the schema
// level, never a full typed-column representation.
type ColumnType string

const (
	ColumnInt    ColumnType = "int"
	ColumnFloat  ColumnType = "float"
	ColumnString ColumnType = "string"
	ColumnBool   ColumnType = "bool"
	ColumnOther  ColumnType = "other"
)

// DataFrame is the fabric's tabular payload shape. It replaces the
// Arrow-backed table the original corpus leaned toward (see DESIGN.md for
// why arrow/go was dropped) with a minimal, dependency-free row/column
// container: a typed schema plus row-major storage, sufficient for JSON
// round-tripping and the column-description operations the spec requires.
type DataFrame struct {
	Columns []string
	Types   []ColumnType
	Rows    [][]any
}

// NewDataFrame builds a DataFrame from column names, inferring types from
// the first row (columns with no rows default to ColumnOther).
func NewDataFrame(columns []string, rows [][]any) *DataFrame {
	df := &DataFrame{Columns: columns, Rows: rows}
	df.Types = make([]ColumnType, len(columns))
	for i := range columns {
		df.Types[i] = ColumnOther
		if len(rows) > 0 {
			df.Types[i] = inferColumnType(rows[0][i])
		}
	}
	return df
}

func inferColumnType(v any) ColumnType {
	switch v.(type) {
	case int, int32, int64:
		return ColumnInt
	case float32, float64:
		return ColumnFloat
	case string:
		return ColumnString
	case bool:
		return ColumnBool
	default:
		return ColumnOther
	}
}

// FromMap builds a single-row DataFrame from a mapping, used when a
// mapping argument is convertible to a DataFrame (spec §4.5 store).
func FromMap(m map[string]any) *DataFrame {
	columns := make([]string, 0, len(m))
	for k := range m {
		columns = append(columns, k)
	}
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = m[c]
	}
	return NewDataFrame(columns, [][]any{row})
}

// NumRows reports the row count.
func (df *DataFrame) NumRows() int {
	if df == nil {
		return 0
	}
	return len(df.Rows)
}
