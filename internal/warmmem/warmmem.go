// Package warmmem implements the warm (embedded relational) tier (spec
// §4.4): a JSON-payload primary-records table per named database, a
// companion tag table, and user-created tables (CSV imports, cross-
// database imports, DataFrame-as-own-table stores). Connection pooling
// per db_name is grounded on the teacher's per-connection-string dial
// convention (internal/storage/connstring.go); the reserved-name and
// atomic-transaction invariants mirror internal/storage/ephemeral's
// "schema executed once, writes transactional" shape.
package warmmem

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corticore/fabric/internal/coldmem"
	"github.com/corticore/fabric/internal/ferrors"
)

const (
	DefaultDB          = "default"
	primaryTable       = "warm_records"
	tagTable           = "warm_record_tags"
)

var reservedTableNames = map[string]bool{
	primaryTable: true,
	tagTable:     true,
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Record is one row from the primary records table.
type Record struct {
	DataID    string
	TableName string // non-empty when the record's payload lives in its own table
	Data      any
	Metadata  map[string]any
	Tags      []string
	StoredAt  time.Time
}

// Schema describes the shape of a stored record (spec §4.4 get_schema).
type Schema struct {
	Type   string // dict, list_of_dicts, table
	Fields []string
	Types  []string
}

// Store is the warm-memory tier: one pooled *sql.DB per db_name, opened
// lazily on first use.
type Store struct {
	basePath string
	dial     func(dbName string) (*sql.DB, error)

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// New creates a warm-memory store rooted at basePath. defaultDB, if
// non-nil, is used as the `default` named database connection (typically
// the manager's shared analytical *sql.DB) instead of opening a new file;
// every other db_name gets its own pooled connection under
// <basePath>/<db_name>.db.
func New(basePath string, defaultDB *sql.DB) *Store {
	s := &Store{
		basePath: basePath,
		pools:    make(map[string]*sql.DB),
	}
	s.dial = func(dbName string) (*sql.DB, error) {
		path := filepath.Join(basePath, dbName+".db")
		if err := os.MkdirAll(basePath, 0o750); err != nil {
			return nil, err
		}
		return sql.Open("sqlite3", sqliteConnString(path))
	}
	if defaultDB != nil {
		// dbFor creates the warm tables only on connections it dials
		// itself, so the shared connection gets them here. New returns no
		// error; a failure here reappears on the first query.
		_ = ensureSchema(context.Background(), defaultDB)
		s.pools[DefaultDB] = defaultDB
	}
	return s
}

// sqliteConnString builds a file: URI with the same pragma set the
// teacher's internal/storage/connstring.go applies: busy_timeout to avoid
// "database is locked" under concurrency, foreign_keys enforcement, and
// SQLite-native time formatting.
func sqliteConnString(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite", path)
}

func (s *Store) dbFor(ctx context.Context, dbName string) (*sql.DB, error) {
	if dbName == "" {
		dbName = DefaultDB
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.pools[dbName]; ok {
		return db, nil
	}
	db, err := s.dial(dbName)
	if err != nil {
		return nil, ferrors.Wrap("warmmem.dbFor", ferrors.ErrBackend, err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s.pools[dbName] = db
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS warm_records (
  data_id text PRIMARY KEY,
  table_name text NOT NULL DEFAULT '',
  data_json text NOT NULL DEFAULT 'null',
  metadata_json text NOT NULL DEFAULT '{}',
  stored_at text NOT NULL
);
CREATE TABLE IF NOT EXISTS warm_record_tags (
  data_id text NOT NULL REFERENCES warm_records(data_id),
  tag text NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_warm_record_tags_data_id ON warm_record_tags(data_id);
`
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return ferrors.Wrap("warmmem.ensureSchema", ferrors.ErrBackend, err)
		}
	}
	return nil
}

func validTableName(name string) bool {
	return identifierRe.MatchString(name) && !reservedTableNames[name]
}

// StoreResult is returned by StoreRecord, StoreRecordAsTable and
// ImportFromCSV.
type StoreResult struct {
	Success   bool
	DataID    string
	TableName string
}

// StoreRecord serialises data into db_name's primary records table, or,
// when asOwnTable is true and data is a *coldmem.DataFrame, creates a new
// table for it instead. Tag rows are written in the same transaction as
// the primary record.
func (s *Store) StoreRecord(ctx context.Context, data any, metadata map[string]any, tags []string, dbName string, asOwnTable bool) (StoreResult, error) {
	db, err := s.dbFor(ctx, dbName)
	if err != nil {
		return StoreResult{}, err
	}
	tags = ferrors.NormalizeTags(tags)
	dataID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecord", ferrors.ErrBackend, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecord", ferrors.ErrBackend, err)
	}
	defer func() { _ = tx.Rollback() }()

	tableName := ""
	if df, ok := data.(*coldmem.DataFrame); ok && asOwnTable {
		tableName = "df_" + strings.ReplaceAll(dataID, "-", "")
		if err := createUserTable(ctx, tx, tableName, df); err != nil {
			return StoreResult{}, err
		}
	}

	var dataJSON []byte
	if tableName == "" {
		dataJSON, err = json.Marshal(data)
		if err != nil {
			return StoreResult{}, ferrors.Wrap("warmmem.StoreRecord", ferrors.ErrBackend, err)
		}
	} else {
		dataJSON = []byte("null")
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO warm_records (data_id, table_name, data_json, metadata_json, stored_at) VALUES (?, ?, ?, ?, ?)`,
		dataID, tableName, string(dataJSON), string(metaJSON), now)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecord", ferrors.ErrBackend, err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO warm_record_tags (data_id, tag) VALUES (?, ?)`, dataID, tag); err != nil {
			return StoreResult{}, ferrors.Wrap("warmmem.StoreRecord", ferrors.ErrBackend, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecord", ferrors.ErrBackend, err)
	}
	return StoreResult{Success: true, DataID: dataID, TableName: tableName}, nil
}

// StoreRecordAsTable is StoreRecord's cross-tier promotion variant (spec
// §4.10 cold -> warm: "store as a named warm table, table_name supplied
// by caller"): the caller names the table instead of one being generated.
func (s *Store) StoreRecordAsTable(ctx context.Context, df *coldmem.DataFrame, metadata map[string]any, tags []string, dbName, tableName string) (StoreResult, error) {
	db, err := s.dbFor(ctx, dbName)
	if err != nil {
		return StoreResult{}, err
	}
	tags = ferrors.NormalizeTags(tags)
	dataID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecordAsTable", ferrors.ErrBackend, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecordAsTable", ferrors.ErrBackend, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createUserTable(ctx, tx, tableName, df); err != nil {
		return StoreResult{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO warm_records (data_id, table_name, data_json, metadata_json, stored_at) VALUES (?, ?, ?, ?, ?)`,
		dataID, tableName, "null", string(metaJSON), now)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecordAsTable", ferrors.ErrBackend, err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO warm_record_tags (data_id, tag) VALUES (?, ?)`, dataID, tag); err != nil {
			return StoreResult{}, ferrors.Wrap("warmmem.StoreRecordAsTable", ferrors.ErrBackend, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.StoreRecordAsTable", ferrors.ErrBackend, err)
	}
	return StoreResult{Success: true, DataID: dataID, TableName: tableName}, nil
}

func createUserTable(ctx context.Context, tx *sql.Tx, tableName string, df *coldmem.DataFrame) error {
	if !validTableName(tableName) {
		return ferrors.Wrap("warmmem.createUserTable", ferrors.ErrBackend, fmt.Errorf("invalid table name %q", tableName))
	}
	cols := make([]string, len(df.Columns))
	for i, c := range df.Columns {
		cols[i] = fmt.Sprintf("%q text", c)
	}
	ddl := fmt.Sprintf("CREATE TABLE %q (%s)", tableName, strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return ferrors.Wrap("warmmem.createUserTable", ferrors.ErrBackend, err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(df.Columns)), ",")
	insert := fmt.Sprintf("INSERT INTO %q VALUES (%s)", tableName, placeholders)
	for _, row := range df.Rows {
		if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
			return ferrors.Wrap("warmmem.createUserTable", ferrors.ErrBackend, err)
		}
	}
	return nil
}

// Retrieve returns records matching tags/query (equality on metadata or
// data, applied in Go since the payload is opaque JSON), most-recent
// stored_at first.
func (s *Store) Retrieve(ctx context.Context, tags []string, query map[string]any, dbName string) ([]Record, error) {
	db, err := s.dbFor(ctx, dbName)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT data_id, table_name, data_json, metadata_json, stored_at FROM warm_records ORDER BY stored_at DESC`)
	if err != nil {
		return nil, ferrors.Wrap("warmmem.Retrieve", ferrors.ErrBackend, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var dataID, tableName, dataJSON, metaJSON, storedAt string
		if err := rows.Scan(&dataID, &tableName, &dataJSON, &metaJSON, &storedAt); err != nil {
			return nil, ferrors.Wrap("warmmem.Retrieve", ferrors.ErrBackend, err)
		}
		var data any
		_ = json.Unmarshal([]byte(dataJSON), &data)
		var meta map[string]any
		_ = json.Unmarshal([]byte(metaJSON), &meta)

		recTags, err := s.tagsFor(ctx, db, dataID)
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 && !containsAll(recTags, tags) {
			continue
		}
		if len(query) > 0 && !matchesQuery(data, meta, query) {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, storedAt)
		out = append(out, Record{DataID: dataID, TableName: tableName, Data: data, Metadata: meta, Tags: recTags, StoredAt: ts})
	}
	return out, rows.Err()
}

// GetRecord fetches a single record by data_id, used by the cross-tier
// promotion path (warm -> hot) where a query-shaped lookup isn't a fit.
func (s *Store) GetRecord(ctx context.Context, dataID, dbName string) (*Record, error) {
	db, err := s.dbFor(ctx, dbName)
	if err != nil {
		return nil, err
	}
	var tableName, dataJSON, metaJSON, storedAt string
	err = db.QueryRowContext(ctx, `SELECT table_name, data_json, metadata_json, stored_at FROM warm_records WHERE data_id = ?`, dataID).
		Scan(&tableName, &dataJSON, &metaJSON, &storedAt)
	if err == sql.ErrNoRows {
		return nil, ferrors.Wrap("warmmem.GetRecord", ferrors.ErrNotFound, err)
	}
	if err != nil {
		return nil, ferrors.Wrap("warmmem.GetRecord", ferrors.ErrBackend, err)
	}
	var data any
	_ = json.Unmarshal([]byte(dataJSON), &data)
	var meta map[string]any
	_ = json.Unmarshal([]byte(metaJSON), &meta)
	tags, err := s.tagsFor(ctx, db, dataID)
	if err != nil {
		return nil, err
	}
	ts, _ := time.Parse(time.RFC3339Nano, storedAt)
	return &Record{DataID: dataID, TableName: tableName, Data: data, Metadata: meta, Tags: tags, StoredAt: ts}, nil
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func matchesQuery(data any, meta map[string]any, query map[string]any) bool {
	dataMap, _ := data.(map[string]any)
	for k, v := range query {
		if mv, ok := meta[k]; ok && fmt.Sprint(mv) == fmt.Sprint(v) {
			continue
		}
		if dataMap != nil {
			if dv, ok := dataMap[k]; ok && fmt.Sprint(dv) == fmt.Sprint(v) {
				continue
			}
		}
		return false
	}
	return true
}

func (s *Store) tagsFor(ctx context.Context, db *sql.DB, dataID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT tag FROM warm_record_tags WHERE data_id = ? ORDER BY tag`, dataID)
	if err != nil {
		return nil, ferrors.Wrap("warmmem.tagsFor", ferrors.ErrBackend, err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, ferrors.Wrap("warmmem.tagsFor", ferrors.ErrBackend, err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Clear deletes every row of the primary records and tag tables of dbName,
// or of every open database when dbName is empty. Tags are dropped in
// lock-step with their records. Tables created by imports or own-table
// stores are left as they are.
func (s *Store) Clear(ctx context.Context, dbName string) error {
	s.mu.Lock()
	targets := map[string]*sql.DB{}
	if dbName != "" {
		if db, ok := s.pools[dbName]; ok {
			targets[dbName] = db
		}
	} else {
		for name, db := range s.pools {
			targets[name] = db
		}
	}
	s.mu.Unlock()

	for _, db := range targets {
		if _, err := db.ExecContext(ctx, `DELETE FROM warm_record_tags`); err != nil {
			return ferrors.Wrap("warmmem.Clear", ferrors.ErrBackend, err)
		}
		if _, err := db.ExecContext(ctx, `DELETE FROM warm_records`); err != nil {
			return ferrors.Wrap("warmmem.Clear", ferrors.ErrBackend, err)
		}
	}
	return nil
}

// ListDatabases returns the names of every database opened so far.
func (s *Store) ListDatabases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pools))
	for name := range s.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSchema reports the shape of the record identified by dataID.
func (s *Store) GetSchema(ctx context.Context, dataID, dbName string) (*Schema, error) {
	db, err := s.dbFor(ctx, dbName)
	if err != nil {
		return nil, err
	}
	var tableName, dataJSON string
	err = db.QueryRowContext(ctx, `SELECT table_name, data_json FROM warm_records WHERE data_id = ?`, dataID).Scan(&tableName, &dataJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.Wrap("warmmem.GetSchema", ferrors.ErrBackend, err)
	}
	if tableName != "" {
		cols, err := tableColumns(ctx, db, tableName)
		if err != nil {
			return nil, err
		}
		return &Schema{Type: "table", Fields: cols}, nil
	}

	var v any
	_ = json.Unmarshal([]byte(dataJSON), &v)
	switch t := v.(type) {
	case map[string]any:
		fields := make([]string, 0, len(t))
		for k := range t {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		return &Schema{Type: "dict", Fields: fields}, nil
	case []any:
		if len(t) > 0 {
			if _, ok := t[0].(map[string]any); ok {
				return &Schema{Type: "list_of_dicts"}, nil
			}
		}
		return &Schema{Type: "list_of_dicts"}, nil
	default:
		return &Schema{Type: "dict"}, nil
	}
}

func tableColumns(ctx context.Context, db *sql.DB, tableName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return nil, ferrors.Wrap("warmmem.tableColumns", ferrors.ErrBackend, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, ferrors.Wrap("warmmem.tableColumns", ferrors.ErrBackend, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// ImportFromCSV creates a new table from the CSV at path and a companion
// primary record describing it.
func (s *Store) ImportFromCSV(ctx context.Context, path string, metadata map[string]any, tags []string, dbName string) (StoreResult, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.ImportFromCSV", ferrors.ErrBackend, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.ImportFromCSV", ferrors.ErrBackend, err)
	}
	var rows [][]any
	for {
		rec, err := reader.Read()
		if err != nil {
			break
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		rows = append(rows, row)
	}

	df := coldmem.NewDataFrame(header, rows)
	dataID := uuid.New().String()
	tableName := "csv_" + strings.ReplaceAll(dataID, "-", "")

	db, err := s.dbFor(ctx, dbName)
	if err != nil {
		return StoreResult{}, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.ImportFromCSV", ferrors.ErrBackend, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createUserTable(ctx, tx, tableName, df); err != nil {
		return StoreResult{}, err
	}

	metaJSON, _ := json.Marshal(metadata)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO warm_records (data_id, table_name, data_json, metadata_json, stored_at) VALUES (?, ?, 'null', ?, ?)`,
		dataID, tableName, string(metaJSON), now); err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.ImportFromCSV", ferrors.ErrBackend, err)
	}
	for _, tag := range ferrors.NormalizeTags(tags) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO warm_record_tags (data_id, tag) VALUES (?, ?)`, dataID, tag); err != nil {
			return StoreResult{}, ferrors.Wrap("warmmem.ImportFromCSV", ferrors.ErrBackend, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return StoreResult{}, ferrors.Wrap("warmmem.ImportFromCSV", ferrors.ErrBackend, err)
	}
	return StoreResult{Success: true, DataID: dataID, TableName: tableName}, nil
}

// ImportResult is returned by ImportFromDuckDB.
type ImportResult struct {
	Success        bool
	ImportedTables []string
	DataIDs        []string
}

// ImportFromDuckDB copies one or more tables wholesale from another
// fabric-managed SQLite file into dbName (spec's "duckdb" source is
// reinterpreted as another fabric-managed analytical SQLite file — see
// the Open Question in SPEC_FULL.md §4.4). Each imported table gets its own primary
// record and tag rows.
func (s *Store) ImportFromDuckDB(ctx context.Context, sourceDBPath string, tables []string, metadata map[string]any, tags []string, dbName string) (ImportResult, error) {
	srcConn := sqliteConnString(sourceDBPath)
	src, err := sql.Open("sqlite3", srcConn)
	if err != nil {
		return ImportResult{}, ferrors.Wrap("warmmem.ImportFromDuckDB", ferrors.ErrBackend, err)
	}
	defer src.Close()

	if len(tables) == 0 {
		tables, err = listUserTables(ctx, src)
		if err != nil {
			return ImportResult{}, err
		}
	}

	dst, err := s.dbFor(ctx, dbName)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	for _, table := range tables {
		cols, err := tableColumns(ctx, src, table)
		if err != nil {
			return ImportResult{}, err
		}
		rows, err := readAllRows(ctx, src, table, cols)
		if err != nil {
			return ImportResult{}, err
		}
		df := coldmem.NewDataFrame(cols, rows)

		dataID := uuid.New().String()
		newTableName := "imp_" + strings.ReplaceAll(dataID, "-", "")

		tx, err := dst.BeginTx(ctx, nil)
		if err != nil {
			return ImportResult{}, ferrors.Wrap("warmmem.ImportFromDuckDB", ferrors.ErrBackend, err)
		}
		if err := createUserTable(ctx, tx, newTableName, df); err != nil {
			tx.Rollback()
			return ImportResult{}, err
		}
		metaJSON, _ := json.Marshal(metadata)
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, `INSERT INTO warm_records (data_id, table_name, data_json, metadata_json, stored_at) VALUES (?, ?, 'null', ?, ?)`,
			dataID, newTableName, string(metaJSON), now); err != nil {
			tx.Rollback()
			return ImportResult{}, ferrors.Wrap("warmmem.ImportFromDuckDB", ferrors.ErrBackend, err)
		}
		for _, tag := range ferrors.NormalizeTags(tags) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO warm_record_tags (data_id, tag) VALUES (?, ?)`, dataID, tag); err != nil {
				tx.Rollback()
				return ImportResult{}, ferrors.Wrap("warmmem.ImportFromDuckDB", ferrors.ErrBackend, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return ImportResult{}, ferrors.Wrap("warmmem.ImportFromDuckDB", ferrors.ErrBackend, err)
		}

		result.ImportedTables = append(result.ImportedTables, table)
		result.DataIDs = append(result.DataIDs, dataID)
	}
	result.Success = true
	return result, nil
}

func listUserTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT IN (?, ?)`, primaryTable, tagTable)
	if err != nil {
		return nil, ferrors.Wrap("warmmem.listUserTables", ferrors.ErrBackend, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, ferrors.Wrap("warmmem.listUserTables", ferrors.ErrBackend, err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func readAllRows(ctx context.Context, db *sql.DB, table string, cols []string) ([][]any, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		return nil, ferrors.Wrap("warmmem.readAllRows", ferrors.ErrBackend, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ferrors.Wrap("warmmem.readAllRows", ferrors.ErrBackend, err)
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// Close closes every pooled connection; when skipDefault is true the
// shared default one (which the memory manager owns and closes itself) is
// left open.
func (s *Store) Close(skipDefault bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, db := range s.pools {
		if skipDefault && name == DefaultDB {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
