// Package catalog implements the fabric's authoritative artifact registry
// (spec §4.1). It is backed by the shared embedded analytical connection
// (an ncruces/go-sqlite3 *sql.DB owned by the memory manager) using a
// single artifacts table plus a one-to-many tag table, matching spec §6's
// relational schema. The transactional register-with-tags shape is
// grounded on the teacher's internal/storage/ephemeral schema-init
// convention (schema executed inside one transaction).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corticore/fabric/internal/ferrors"
)

// Tier is the closed set of fabric storage tiers.
type Tier string

const (
	TierRedHot  Tier = "red_hot"
	TierHot     Tier = "hot"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierGlacier Tier = "glacier"
)

// ValidTier reports whether t is one of the five closed-set tiers.
func ValidTier(t Tier) bool {
	switch t {
	case TierRedHot, TierHot, TierWarm, TierCold, TierGlacier:
		return true
	}
	return false
}

// Entry is one catalog row (spec §3).
type Entry struct {
	DataID         string
	Tier           Tier
	Location       string
	SizeBytes      int64
	DataType       string
	Tags           []string
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int64
	AdditionalMeta string // opaque JSON
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
  data_id text PRIMARY KEY,
  tier text NOT NULL,
  location text NOT NULL,
  size_bytes integer NOT NULL DEFAULT 0,
  data_type text NOT NULL DEFAULT '',
  created_at text NOT NULL,
  last_accessed text NOT NULL,
  access_count integer NOT NULL DEFAULT 0,
  additional_meta text NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS artifact_tags (
  data_id text NOT NULL REFERENCES artifacts(data_id),
  tag text NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifact_tags_data_id ON artifact_tags(data_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_tier ON artifacts(tier);
`

// Catalog is the artifact registry.
type Catalog struct {
	db *sql.DB
}

// New wraps an existing *sql.DB (the manager's shared analytical
// connection) and ensures the catalog schema exists.
func New(ctx context.Context, db *sql.DB) (*Catalog, error) {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, ferrors.Wrap("catalog.New", ferrors.ErrBackend, err)
		}
	}
	return &Catalog{db: db}, nil
}

// Register atomically inserts a new artifact plus its tags and returns the
// generated data_id. data_id is never reused (uuid.New()).
func (c *Catalog) Register(ctx context.Context, tier Tier, location string, size int64, dataType string, tags []string, additionalMeta string) (string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", ferrors.Wrap("catalog.Register", ferrors.ErrBackend, err)
	}
	defer func() { _ = tx.Rollback() }()

	dataID, err := registerInTx(ctx, tx, tier, location, size, dataType, tags, additionalMeta)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", ferrors.Wrap("catalog.Register", ferrors.ErrBackend, err)
	}
	return dataID, nil
}

// BeginTx starts a transaction a caller will register multiple artifacts
// into before committing itself (coldmem's BatchImport, which must create
// one catalog entry per file inside a single shared transaction per spec
// §4.5, rather than one transaction per file).
func (c *Catalog) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ferrors.Wrap("catalog.BeginTx", ferrors.ErrBackend, err)
	}
	return tx, nil
}

// RegisterInTx is Register's shared-transaction variant: tx's lifecycle
// (commit/rollback) belongs to the caller.
func (c *Catalog) RegisterInTx(ctx context.Context, tx *sql.Tx, tier Tier, location string, size int64, dataType string, tags []string, additionalMeta string) (string, error) {
	return registerInTx(ctx, tx, tier, location, size, dataType, tags, additionalMeta)
}

func registerInTx(ctx context.Context, tx *sql.Tx, tier Tier, location string, size int64, dataType string, tags []string, additionalMeta string) (string, error) {
	if !ValidTier(tier) {
		return "", ferrors.Wrap("catalog.Register", ferrors.ErrTierUnknown, fmt.Errorf("tier %q", tier))
	}
	tags = ferrors.NormalizeTags(tags)
	if additionalMeta == "" {
		additionalMeta = "{}"
	}

	dataID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := tx.ExecContext(ctx, `INSERT INTO artifacts
		(data_id, tier, location, size_bytes, data_type, created_at, last_accessed, access_count, additional_meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		dataID, string(tier), location, size, dataType, now, now, additionalMeta)
	if err != nil {
		return "", ferrors.Wrap("catalog.Register", ferrors.ErrBackend, err)
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO artifact_tags (data_id, tag) VALUES (?, ?)`, dataID, tag); err != nil {
			return "", ferrors.Wrap("catalog.Register", ferrors.ErrBackend, err)
		}
	}

	return dataID, nil
}

// Get returns the entry for dataID, or nil if absent (best-effort read).
func (c *Catalog) Get(ctx context.Context, dataID string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `SELECT data_id, tier, location, size_bytes, data_type,
		created_at, last_accessed, access_count, additional_meta FROM artifacts WHERE data_id = ?`, dataID)

	e, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, ferrors.Wrap("catalog.Get", ferrors.ErrBackend, err)
	}
	e.Tags, err = c.tagsFor(ctx, dataID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns every entry registered under tier.
func (c *Catalog) List(ctx context.Context, tier Tier) ([]*Entry, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT data_id, tier, location, size_bytes, data_type,
		created_at, last_accessed, access_count, additional_meta FROM artifacts WHERE tier = ? ORDER BY created_at`, string(tier))
	if err != nil {
		return nil, ferrors.Wrap("catalog.List", ferrors.ErrBackend, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, ferrors.Wrap("catalog.List", ferrors.ErrBackend, err)
		}
		tags, err := c.tagsFor(ctx, e.DataID)
		if err != nil {
			return nil, err
		}
		e.Tags = tags
		out = append(out, e)
	}
	return out, rows.Err()
}

// Touch increments access_count and updates last_accessed for dataID.
// Access counters are monotonic.
func (c *Catalog) Touch(ctx context.Context, dataID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx, `UPDATE artifacts SET access_count = access_count + 1, last_accessed = ? WHERE data_id = ?`, now, dataID)
	if err != nil {
		return ferrors.Wrap("catalog.Touch", ferrors.ErrBackend, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ferrors.Wrap("catalog.Touch", ferrors.ErrNotFound, fmt.Errorf("data_id %q", dataID))
	}
	return nil
}

// Remove deletes the catalog entry and its tags. Removing both the tier's
// payload and the catalog entry is the caller's responsibility (spec §3
// "failing to drop both is a bug") — Remove only ever touches the catalog
// half.
func (c *Catalog) Remove(ctx context.Context, dataID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.Wrap("catalog.Remove", ferrors.ErrBackend, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_tags WHERE data_id = ?`, dataID); err != nil {
		return ferrors.Wrap("catalog.Remove", ferrors.ErrBackend, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE data_id = ?`, dataID); err != nil {
		return ferrors.Wrap("catalog.Remove", ferrors.ErrBackend, err)
	}
	return ferrors.Wrap("catalog.Remove", ferrors.ErrBackend, tx.Commit())
}

func (c *Catalog) tagsFor(ctx context.Context, dataID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT tag FROM artifact_tags WHERE data_id = ? ORDER BY tag`, dataID)
	if err != nil {
		return nil, ferrors.Wrap("catalog.tagsFor", ferrors.ErrBackend, err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, ferrors.Wrap("catalog.tagsFor", ferrors.ErrBackend, err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var tier, createdAt, lastAccessed string
	if err := s.Scan(&e.DataID, &tier, &e.Location, &e.SizeBytes, &e.DataType,
		&createdAt, &lastAccessed, &e.AccessCount, &e.AdditionalMeta); err != nil {
		return nil, err
	}
	e.Tier = Tier(tier)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed)
	return &e, nil
}
