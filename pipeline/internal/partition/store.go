package partition

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store reads and replaces date partitions.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database, verifies the connection and creates the
// output tables if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("partition: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serialises writers; one connection also keeps an in-memory
		// database alive and shared.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("partition: ping %s: %w", driver, err)
	}
	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. driver selects the placeholder style.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Migrate creates the output tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("partition: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace deletes every row of t for date and inserts rows in the same
// transaction. Each row holds values for t.Columns in order. It returns the
// number of rows written.
func (s *Store) Replace(ctx context.Context, t Table, date string, rows [][]any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("partition: %s begin: %w", t.Name, err)
	}
	defer tx.Rollback() //nolint:errcheck

	del := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.Name, t.DateColumn))
	if _, err := tx.ExecContext(ctx, del, date); err != nil {
		return 0, fmt.Errorf("partition: %s delete %s: %w", t.Name, date, err)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.insertSQL(t))
		if err != nil {
			return 0, fmt.Errorf("partition: %s prepare: %w", t.Name, err)
		}
		defer stmt.Close()

		args := make([]any, len(t.Columns)+1)
		args[0] = date
		for i, row := range rows {
			if len(row) != len(t.Columns) {
				return 0, fmt.Errorf("partition: %s row %d: got %d values, want %d", t.Name, i, len(row), len(t.Columns))
			}
			copy(args[1:], row)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, fmt.Errorf("partition: %s insert row %d: %w", t.Name, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("partition: %s commit: %w", t.Name, err)
	}
	return int64(len(rows)), nil
}

// Count returns the number of rows in t's partition for date.
func (s *Store) Count(ctx context.Context, t Table, date string) (int64, error) {
	var n int64
	q := s.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", t.Name, t.DateColumn))
	if err := s.db.QueryRowContext(ctx, q, date).Scan(&n); err != nil {
		return 0, fmt.Errorf("partition: %s count: %w", t.Name, err)
	}
	return n, nil
}

// query runs a '?'-placeholder query with driver-specific rebinding.
func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *Store) insertSQL(t Table) string {
	cols := append([]string{t.DateColumn}, t.Columns...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return s.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(cols, ", "), marks))
}

// rebind converts '?' placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
