package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/store/query"
)

// SQLite is a Store persisted in a SQLite database. Several stores may share
// one database file; rows are partitioned by store name.
type SQLite struct {
	db      *sql.DB
	name    string
	idField string
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at path and returns the store
// named name inside it. Use ":memory:" for a private in-memory database.
func NewSQLite(path, name, idField string) (*SQLite, error) {
	if idField == "" {
		idField = DefaultRecordID
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLite{db: db, name: name, idField: idField}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			store TEXT NOT NULL,
			id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (store, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_store_seq ON records(store, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Type() string { return TypeSQLite }

func (s *SQLite) ReadAll(ctx context.Context) ([]domain.Record, error) {
	return s.Filter(ctx, query.And())
}

func (s *SQLite) Read(ctx context.Context, id string) (domain.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE store = ? AND id = ?`, s.name, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return decodeRecord(data)
}

// Filter loads the store in insertion order and evaluates expr in process.
func (s *SQLite) Filter(ctx context.Context, expr query.Expr) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE store = ? ORDER BY seq`, s.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	result := []domain.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		if expr.Eval(r) {
			result = append(result, r)
		}
	}
	return result, rows.Err()
}

func (s *SQLite) Save(ctx context.Context, data any) ([]domain.Record, error) {
	records, err := normalize(data, s.idField)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO records (store, id, seq, data)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE store = ?), ?)
		ON CONFLICT (store, id) DO UPDATE SET data = excluded.data`

	saved := make([]domain.Record, 0, len(records))
	for _, r := range records {
		id, _ := domain.RecordID(r, s.idField)
		payload, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, s.name, id, s.name, string(payload)); err != nil {
			return nil, fmt.Errorf("failed to save record %s: %w", id, err)
		}
		saved = append(saved, clone(r))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return saved, nil
}

func (s *SQLite) Remove(ctx context.Context, record domain.Record) error {
	id, ok := domain.RecordID(record, s.idField)
	if !ok {
		return domain.ErrInvalid("record id is required", domain.ErrMissingRecordID)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND id = ?`, s.name, id)
	if err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE store = ?`, s.name); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func decodeRecord(data string) (domain.Record, error) {
	var r domain.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, domain.ErrParseFailure("stored record is not valid JSON", err)
	}
	return r, nil
}
