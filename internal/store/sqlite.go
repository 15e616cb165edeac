package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/urumi/internal/model"
	"github.com/seantiz/urumi/internal/sqlitedb"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const createStoresTable = `
CREATE TABLE IF NOT EXISTS stores (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    type      TEXT NOT NULL,
    status    TEXT NOT NULL,
    url       TEXT NOT NULL,
    createdAt DATETIME NOT NULL
)`

const storeColumns = "id, name, type, status, url, createdAt"

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(createStoresTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stores table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateStore inserts a new store record.
func (s *SQLiteStore) CreateStore(ctx context.Context, st *model.Store) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stores (`+storeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Type, st.Status, st.URL, st.CreatedAt.UTC(),
	)
	if isConstraintPrimaryKey(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

// GetStore retrieves a store by ID.
func (s *SQLiteStore) GetStore(ctx context.Context, id string) (*model.Store, error) {
	st := &model.Store{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.Type, &st.Status, &st.URL, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	return st, nil
}

// ListStores returns all stores ordered by createdAt DESC.
func (s *SQLiteStore) ListStores(ctx context.Context) ([]*model.Store, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores ORDER BY createdAt DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return scanStores(rows)
}

// ListStuck returns stores in status created before the cutoff, oldest first.
func (s *SQLiteStore) ListStuck(ctx context.Context, status string, createdBefore time.Time) ([]*model.Store, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+storeColumns+` FROM stores
		WHERE status = ? AND createdAt < ? ORDER BY createdAt ASC`,
		status, createdBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck stores: %w", err)
	}
	return scanStores(rows)
}

func scanStores(rows *sql.Rows) ([]*model.Store, error) {
	defer rows.Close()

	var stores []*model.Store
	for rows.Next() {
		st := &model.Store{}
		if err := rows.Scan(&st.ID, &st.Name, &st.Type, &st.Status, &st.URL, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return stores, nil
}

// UpdateStoreStatus moves a store to status if the transition table allows it.
// The guard is evaluated inside the UPDATE, not by a prior read.
func (s *SQLiteStore) UpdateStoreStatus(ctx context.Context, id, status string) error {
	froms := model.SourcesOf(status)
	if len(froms) == 0 {
		return s.transitionError(ctx, id)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(froms)), ", ")
	args := []any{status, id}
	for _, f := range froms {
		args = append(args, f)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE stores SET status = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update store status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.transitionError(ctx, id)
	}

	return nil
}

// transitionError reports why an update matched no row.
func (s *SQLiteStore) transitionError(ctx context.Context, id string) error {
	if _, err := s.GetStore(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// DeleteStore removes a store record.
func (s *SQLiteStore) DeleteStore(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM stores WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete store: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStoreStats returns fleet counts by status and by type.
func (s *SQLiteStore) GetStoreStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountByStatus: make(map[string]int),
		CountByType:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, type, COUNT(*) FROM stores GROUP BY status, type")
	if err != nil {
		return nil, fmt.Errorf("count stores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, typ string
		var n int
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return nil, fmt.Errorf("scan store count: %w", err)
		}
		stats.Total += n
		stats.CountByStatus[status] += n
		stats.CountByType[typ] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate store counts: %w", err)
	}

	return stats, nil
}

func isConstraintPrimaryKey(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
