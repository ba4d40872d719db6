// Package index maintains a SQLite index over finalized consequence
// records. The append-only JSONL ledger remains the source of truth; the
// index exists so the surrounding application can list records with filters
// and pagination without scanning ledger files.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pristine-labs/coreguard/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS consequence_records (
	id                      TEXT PRIMARY KEY,
	patch_id                TEXT NOT NULL,
	branch                  TEXT NOT NULL DEFAULT '',
	author_id               TEXT NOT NULL DEFAULT '',
	decision                TEXT NOT NULL,
	core_integrity_verified INTEGER NOT NULL,
	created_at              INTEGER NOT NULL,
	record                  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consequence_patch ON consequence_records(patch_id);
CREATE INDEX IF NOT EXISTS idx_consequence_branch ON consequence_records(branch);
CREATE INDEX IF NOT EXISTS idx_consequence_author ON consequence_records(author_id);
`

// defaultListLimit bounds unfiltered listings
const defaultListLimit = 50

// Index is a SQLite-backed consequence record index. It implements the
// ledger mirror interface so every ledger write lands here too.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index database at path, with WAL mode for
// concurrent readers.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the underlying database handle
func (i *Index) Close() error {
	return i.db.Close()
}

// Put indexes one finalized record. Records are write-once: indexing the
// same transformation id twice is an error.
func (i *Index) Put(ctx context.Context, record *types.ConsequenceRecord) error {
	if record == nil || record.Transformation.ID == "" {
		return fmt.Errorf("cannot index a record without a transformation id")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.Transformation.ID, err)
	}

	res, err := i.db.ExecContext(ctx, `
		INSERT INTO consequence_records
			(id, patch_id, branch, author_id, decision, core_integrity_verified, created_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		record.Transformation.ID,
		record.Transformation.PatchID,
		record.Transformation.Branch,
		record.Transformation.AuthorID,
		string(record.Decision),
		boolToInt(record.CoreIntegrityVerified),
		// Unix nanos rather than a formatted timestamp: RFC 3339 strings with
		// trimmed fractional seconds do not sort lexicographically, and List
		// orders by this column.
		record.Transformation.Timestamp.UTC().UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to index record %s: %w", record.Transformation.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check index insert for %s: %w", record.Transformation.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("consequence record %s is already indexed", record.Transformation.ID)
	}
	return nil
}

// Filter narrows a List call. Zero-value fields are ignored.
type Filter struct {
	PatchID  string
	Branch   string
	AuthorID string
	Limit    int
	Offset   int
}

// List returns indexed records newest first
func (i *Index) List(ctx context.Context, filter Filter) ([]*types.ConsequenceRecord, error) {
	query := "SELECT record FROM consequence_records WHERE 1=1"
	var args []interface{}

	if filter.PatchID != "" {
		query += " AND patch_id = ?"
		args = append(args, filter.PatchID)
	}
	if filter.Branch != "" {
		query += " AND branch = ?"
		args = append(args, filter.Branch)
	}
	if filter.AuthorID != "" {
		query += " AND author_id = ?"
		args = append(args, filter.AuthorID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consequence records: %w", err)
	}
	defer rows.Close()

	var records []*types.ConsequenceRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan consequence record: %w", err)
		}
		var record types.ConsequenceRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("failed to decode indexed record: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consequence records: %w", err)
	}
	return records, nil
}

// Count returns the number of indexed records matching the filter
func (i *Index) Count(ctx context.Context, filter Filter) (int, error) {
	query := "SELECT COUNT(*) FROM consequence_records WHERE 1=1"
	var args []interface{}

	if filter.PatchID != "" {
		query += " AND patch_id = ?"
		args = append(args, filter.PatchID)
	}
	if filter.Branch != "" {
		query += " AND branch = ?"
		args = append(args, filter.Branch)
	}
	if filter.AuthorID != "" {
		query += " AND author_id = ?"
		args = append(args, filter.AuthorID)
	}

	var n int
	if err := i.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count consequence records: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
