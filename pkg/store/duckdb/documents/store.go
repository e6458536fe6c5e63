package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/de-tools/cost-atlas/pkg/store/duckdb"
)

// Store keeps JSON documents in the documents table, one row per bucket/key.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.KV = (*Store)(nil)

func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value string
	err := duckdb.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT doc_value FROM documents WHERE bucket = ? AND doc_key = ?`,
		bucket, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errkind.New(errkind.NotFound, "%s %q not found", bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return []byte(value), nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := duckdb.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO documents (bucket, doc_key, doc_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bucket, doc_key) DO UPDATE SET
			doc_value = excluded.doc_value,
			updated_at = excluded.updated_at`,
		bucket, key, string(value), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	res, err := duckdb.Conn(ctx, s.db).ExecContext(ctx,
		`DELETE FROM documents WHERE bucket = ? AND doc_key = ?`,
		bucket, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	if n == 0 {
		return errkind.New(errkind.NotFound, "%s %q not found", bucket, key)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket string) ([][]byte, error) {
	rows, err := duckdb.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT doc_value FROM documents WHERE bucket = ? ORDER BY doc_key`,
		bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	out := make([][]byte, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		out = append(out, []byte(value))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", bucket, err)
	}
	return out, nil
}
