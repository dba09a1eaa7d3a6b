package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.prumo/catalog.db"

// DefaultBatchSize is the insert batch size for ReplaceAll.
const DefaultBatchSize = 500

// StoreStats holds observability counters for the persisted catalog.
type StoreStats struct {
	Records     int64  `json:"records"`
	Groups      int64  `json:"groups"`
	Units       int64  `json:"units"`
	Hash        string `json:"hash"`
	DBSizeBytes int64  `json:"db_size_bytes"`
}

// Store persists a catalog generation in SQLite. Row order is preserved
// through the row_index column, so All() reproduces the exact ordering
// the indexes were built over.
type Store struct {
	db     *sql.DB
	dbPath string
}

// OpenStore opens (creating if needed) the catalog database.
// Pass ":memory:" for tests.
func OpenStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = expandPath(DefaultDBPath)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS services (
			row_index   INTEGER PRIMARY KEY,
			code        TEXT NOT NULL,
			description TEXT NOT NULL,
			normalized  TEXT NOT NULL,
			unit        TEXT NOT NULL DEFAULT '',
			price       REAL NOT NULL DEFAULT 0,
			source      TEXT NOT NULL DEFAULT '',
			grp         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_services_code ON services(code)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}
	return nil
}

// ReplaceAll swaps in a complete new catalog generation inside one
// transaction: either the full load lands or nothing changes. The corpus
// hash is stored alongside so cache identity survives restarts.
func (s *Store) ReplaceAll(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("refusing to replace catalog with zero records")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM services`); err != nil {
		return fmt.Errorf("clearing services: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO services
		(row_index, code, description, normalized, unit, price, source, grp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, i, r.Code, r.Description, r.Normalized,
			r.Unit, r.Price, r.Source, r.Group); err != nil {
			return fmt.Errorf("inserting row %d (%s): %w", i, r.Code, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('corpus_hash', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		Hash(records)); err != nil {
		return fmt.Errorf("storing corpus hash: %w", err)
	}

	return tx.Commit()
}

// All returns every record in storage order. The returned slice's
// positions match each record's RowIndex.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT row_index, code, description,
		normalized, unit, price, source, grp FROM services ORDER BY row_index`)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.RowIndex, &r.Code, &r.Description, &r.Normalized,
			&r.Unit, &r.Price, &r.Source, &r.Group); err != nil {
			return nil, fmt.Errorf("scanning service row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Groups returns the distinct service groups. Feeds the classifier
// prompt's option list.
func (s *Store) Groups(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "grp")
}

// Units returns the distinct units of measure.
func (s *Store) Units(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "unit")
}

func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT %s FROM services WHERE %s != '' ORDER BY %s`,
			column, column, column))
	if err != nil {
		return nil, fmt.Errorf("listing distinct %s: %w", column, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CorpusHash returns the stored corpus identity, or "" when no catalog
// has been persisted yet.
func (s *Store) CorpusHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'corpus_hash'`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading corpus hash: %w", err)
	}
	return hash, nil
}

// Stats reports catalog counters for the health and stats surfaces.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM services`).Scan(&stats.Records); err != nil {
		return nil, fmt.Errorf("counting services: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT grp) FROM services WHERE grp != ''`).Scan(&stats.Groups); err != nil {
		return nil, fmt.Errorf("counting groups: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT unit) FROM services WHERE unit != ''`).Scan(&stats.Units); err != nil {
		return nil, fmt.Errorf("counting units: %w", err)
	}

	hash, err := s.CorpusHash(ctx)
	if err != nil {
		return nil, err
	}
	stats.Hash = hash

	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = fi.Size()
		}
	}
	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
