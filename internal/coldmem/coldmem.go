// Package coldmem implements the cold (columnar/analytical) tier (spec
// §4.5): an in-memory analytical table of DataFrames plus catalog-backed
// external file registration. Schema description for registered parquet
// files uses github.com/xitongsys/parquet-go (+ parquet-go-source's local
// reader) to read column metadata without loading row data, matching the
// "describe without loading payloads" invariant from spec §3. Grounded on
// the teacher's internal/storage/batch.go for the accumulate-errors batch
// shape.
package coldmem

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"golang.org/x/sync/errgroup"

	"github.com/corticore/fabric/internal/catalog"
	"github.com/corticore/fabric/internal/ferrors"
)

const coldTable = "cold_data"

// Schema describes a cold-tier artifact (spec §4.5 get_schema /
// get_all_schemas).
type Schema struct {
	DataID  string
	Columns []string
	DTypes  []string
	Type    string
	Source  string
}

// RegisteredFile summarises an externally registered file.
type RegisteredFile struct {
	DataID    string
	Timestamp time.Time
	Size      int64
	FilePath  string
	DataType  string
}

// ImportOutcome is one file's result within a batch import.
type ImportOutcome struct {
	Path  string
	Error error
}

// Store is the cold-memory tier.
type Store struct {
	db  *sql.DB
	cat *catalog.Catalog
}

// New wraps the shared analytical *sql.DB and catalog, ensuring the cold
// table exists.
func New(ctx context.Context, db *sql.DB, cat *catalog.Catalog) (*Store, error) {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT)`, coldTable)); err != nil {
		return nil, ferrors.Wrap("coldmem.New", ferrors.ErrBackend, err)
	}
	return &Store{db: db, cat: cat}, nil
}

// StoreFrame stores df as a row in the in-memory analytical table and
// registers a catalog entry with data_type "dataframe". The returned id is
// both the row key and the catalog data_id.
func (s *Store) StoreFrame(ctx context.Context, df *DataFrame, metadata map[string]any, tags []string) (string, error) {
	encoded, err := json.Marshal(df)
	if err != nil {
		return "", ferrors.Wrap("coldmem.StoreFrame", ferrors.ErrBackend, err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", ferrors.Wrap("coldmem.StoreFrame", ferrors.ErrBackend, err)
	}

	id := uuid.New().String()
	if s.cat != nil {
		dataID, err := s.cat.Register(ctx, catalog.TierCold, coldTable, int64(len(encoded)), "dataframe", tags, string(metaJSON))
		if err != nil {
			return "", err
		}
		id = dataID
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, coldTable), id, string(encoded)); err != nil {
		if s.cat != nil {
			_ = s.cat.Remove(ctx, id)
		}
		return "", ferrors.Wrap("coldmem.StoreFrame", ferrors.ErrBackend, err)
	}
	return id, nil
}

// Retrieve returns the DataFrame stored under dataID, or nil if absent.
func (s *Store) Retrieve(ctx context.Context, dataID string) (*DataFrame, map[string]any, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, coldTable), dataID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, ferrors.Wrap("coldmem.Retrieve", ferrors.ErrBackend, err)
	}
	var df DataFrame
	if err := json.Unmarshal([]byte(encoded), &df); err != nil {
		return nil, nil, ferrors.Wrap("coldmem.Retrieve", ferrors.ErrBackend, err)
	}

	var metadata map[string]any
	if s.cat != nil {
		entry, err := s.cat.Get(ctx, dataID)
		if err != nil {
			return nil, nil, err
		}
		if entry != nil {
			_ = json.Unmarshal([]byte(entry.AdditionalMeta), &metadata)
		}
	}
	return &df, metadata, nil
}

// RegisterExternalFile records path's absolute form, size, and suffix in
// the catalog with is_external semantics (data_type = suffix, no
// suffix-stripping dot).
func (s *Store) RegisterExternalFile(ctx context.Context, path string) (string, error) {
	df, err := describeExternalFile(path)
	if err != nil {
		return "", err
	}
	return s.cat.Register(ctx, catalog.TierCold, df.abs, df.size, df.suffix, nil, df.meta)
}

// describedFile is the stat/suffix/metadata derived from one candidate
// path, independent of any catalog write.
type describedFile struct {
	abs    string
	size   int64
	suffix string
	meta   string
}

func describeExternalFile(path string) (describedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return describedFile{}, ferrors.Wrap("coldmem.describeExternalFile", ferrors.ErrBackend, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return describedFile{}, ferrors.Wrap("coldmem.describeExternalFile", ferrors.ErrBackend, err)
	}
	suffix := strings.TrimPrefix(filepath.Ext(abs), ".")
	meta, _ := json.Marshal(map[string]any{"is_external": true})
	return describedFile{abs: abs, size: info.Size(), suffix: suffix, meta: string(meta)}, nil
}

// UnregisterFile removes the catalog entry for dataID. The source file on
// disk is never touched here — callers wanting to delete it do so
// explicitly before or after calling this.
func (s *Store) UnregisterFile(ctx context.Context, dataID string) (bool, error) {
	entry, err := s.cat.Get(ctx, dataID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if err := s.cat.Remove(ctx, dataID); err != nil {
		return false, err
	}
	return true, nil
}

// ListRegisteredFiles lists every cold-tier catalog entry.
func (s *Store) ListRegisteredFiles(ctx context.Context) ([]RegisteredFile, error) {
	entries, err := s.cat.List(ctx, catalog.TierCold)
	if err != nil {
		return nil, err
	}
	out := make([]RegisteredFile, 0, len(entries))
	for _, e := range entries {
		out = append(out, RegisteredFile{
			DataID:    e.DataID,
			Timestamp: e.CreatedAt,
			Size:      e.SizeBytes,
			FilePath:  e.Location,
			DataType:  e.DataType,
		})
	}
	return out, nil
}

// GetSchema describes the artifact under dataID: parquet files get real
// column/type data via parquet-go; in-memory DataFrame rows describe
// their own columns.
func (s *Store) GetSchema(ctx context.Context, dataID string) (*Schema, error) {
	entry, err := s.cat.Get(ctx, dataID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if entry.DataType == "parquet" {
		cols, types, err := describeParquet(entry.Location)
		if err != nil {
			return nil, err
		}
		return &Schema{DataID: dataID, Columns: cols, DTypes: types, Type: "dataframe", Source: "duckdb"}, nil
	}

	df, _, err := s.Retrieve(ctx, dataID)
	if err != nil {
		return nil, err
	}
	if df == nil {
		return &Schema{DataID: dataID, Type: "dataframe", Source: "duckdb"}, nil
	}
	types := make([]string, len(df.Types))
	for i, t := range df.Types {
		types[i] = string(t)
	}
	return &Schema{DataID: dataID, Columns: df.Columns, DTypes: types, Type: "dataframe", Source: "duckdb"}, nil
}

// GetAllSchemas describes every registered file without loading payloads.
func (s *Store) GetAllSchemas(ctx context.Context) ([]Schema, error) {
	files, err := s.ListRegisteredFiles(ctx)
	if err != nil {
		return nil, err
	}
	var out []Schema
	for _, f := range files {
		schema, err := s.GetSchema(ctx, f.DataID)
		if err != nil {
			return nil, err
		}
		if schema != nil {
			out = append(out, *schema)
		}
	}
	return out, nil
}

// Clear deletes every row of the analytical cold table and every cold-tier
// catalog entry; when removeExternalFiles is true it first deletes the
// files registered under the cold tier from disk.
func (s *Store) Clear(ctx context.Context, removeExternalFiles bool) error {
	if removeExternalFiles {
		files, err := s.ListRegisteredFiles(ctx)
		if err != nil {
			return err
		}
		for _, f := range files {
			_ = os.Remove(f.FilePath)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, coldTable)); err != nil {
		return ferrors.Wrap("coldmem.Clear", ferrors.ErrBackend, err)
	}
	entries, err := s.cat.List(ctx, catalog.TierCold)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.cat.Remove(ctx, e.DataID); err != nil {
			return err
		}
	}
	return nil
}

// BatchImport recursively discovers files under root matching pattern
// (a filepath.Match glob applied to the base name), describes each
// concurrently, and then registers one catalog entry per successfully
// described file inside a single shared transaction (spec §4.5), rather
// than the one-transaction-per-file a naive fan-out would produce.
// Progress and per-file errors are accumulated and returned instead of
// aborting the batch.
func (s *Store) BatchImport(ctx context.Context, root, pattern string) ([]ImportOutcome, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // accumulate via outcomes below, don't abort the walk
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, filepath.Base(path))
		if matchErr == nil && ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.Wrap("coldmem.BatchImport", ferrors.ErrBackend, err)
	}
	sort.Strings(matches)

	outcomes := make([]ImportOutcome, len(matches))
	described := make([]describedFile, len(matches))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(batchImportConcurrency)
	for i, path := range matches {
		i, path := i, path
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				outcomes[i] = ImportOutcome{Path: path, Error: err}
				return nil
			}
			df, err := describeExternalFile(path)
			if err != nil {
				outcomes[i] = ImportOutcome{Path: path, Error: err}
				return nil
			}
			described[i] = df
			return nil
		})
	}
	_ = group.Wait() // per-file describe errors are carried in outcomes, not returned

	tx, err := s.cat.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for i, path := range matches {
		if outcomes[i].Error != nil {
			continue // already failed at the describe stage
		}
		df := described[i]
		_, regErr := s.cat.RegisterInTx(ctx, tx, catalog.TierCold, df.abs, df.size, df.suffix, nil, df.meta)
		outcomes[i] = ImportOutcome{Path: path, Error: regErr}
	}

	if err := tx.Commit(); err != nil {
		commitErr := ferrors.Wrap("coldmem.BatchImport", ferrors.ErrBackend, err)
		for i := range outcomes {
			if outcomes[i].Error == nil {
				outcomes[i].Error = commitErr
			}
		}
	}
	return outcomes, nil
}

// batchImportConcurrency bounds how many files BatchImport describes
// (stats, suffix-derives) at once; catalog registration itself is always
// serialized into the batch's single shared transaction.
const batchImportConcurrency = 4

// describeParquet reads column names and physical types from a parquet
// file's footer without reading row groups.
func describeParquet(path string) ([]string, []string, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, nil, ferrors.Wrap("coldmem.describeParquet", ferrors.ErrBackend, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 4)
	if err != nil {
		return nil, nil, ferrors.Wrap("coldmem.describeParquet", ferrors.ErrBackend, err)
	}
	defer pr.ReadStop()

	var cols, types []string
	for _, info := range pr.SchemaHandler.SchemaElements {
		if info.GetNumChildren() > 0 {
			continue // skip the synthetic root group element
		}
		cols = append(cols, info.GetName())
		types = append(types, info.Type.String())
	}
	return cols, types, nil
}
