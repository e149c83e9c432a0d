package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDB is the subset of *pgxpool.Pool the Postgres backend needs.
type PostgresDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresBackend stores entries in the kv_entries table, partitioned by
// namespace. The schema is created by migrations/0001_kv_entries.sql.
type PostgresBackend struct {
	db        PostgresDB
	namespace string
}

// NewPostgresBackend wraps an existing pool.
func NewPostgresBackend(db PostgresDB, namespace string) *PostgresBackend {
	return &PostgresBackend{db: db, namespace: namespace}
}

func (b *PostgresBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `
        SELECT value FROM kv_entries
        WHERE namespace=$1 AND key=$2`

	var data []byte
	if err := b.db.QueryRow(ctx, query, b.namespace, key).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select kv entry: %w", err)
	}
	return data, true, nil
}

func (b *PostgresBackend) ReadMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	const query = `
        SELECT key, value FROM kv_entries
        WHERE namespace=$1 AND key = ANY($2)`

	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := b.db.Query(ctx, query, b.namespace, keys)
	if err != nil {
		return nil, fmt.Errorf("select kv entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan kv entry: %w", err)
		}
		out[key] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv entries: %w", err)
	}
	return out, nil
}

const upsertEntry = `
        INSERT INTO kv_entries (namespace, key, value, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (namespace, key)
        DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`

func (b *PostgresBackend) Write(ctx context.Context, key string, data []byte) error {
	if _, err := b.db.Exec(ctx, upsertEntry, b.namespace, key, data); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	return nil
}

func (b *PostgresBackend) WriteMany(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for key, data := range entries {
			batch.Queue(upsertEntry, b.namespace, key, data)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert kv batch: %w", err)
		}
		return nil
	})
}

func (b *PostgresBackend) Delete(ctx context.Context, keys ...string) error {
	const query = `DELETE FROM kv_entries WHERE namespace=$1 AND key = ANY($2)`

	if len(keys) == 0 {
		return nil
	}
	if _, err := b.db.Exec(ctx, query, b.namespace, keys); err != nil {
		return fmt.Errorf("delete kv entries: %w", err)
	}
	return nil
}

func (b *PostgresBackend) DeleteIfUnchanged(ctx context.Context, snapshot map[string][]byte) (int, error) {
	const query = `DELETE FROM kv_entries WHERE namespace=$1 AND key=$2 AND value=$3`

	if len(snapshot) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for key, data := range snapshot {
		batch.Queue(query, b.namespace, key, data)
	}
	results := b.db.SendBatch(ctx, batch)
	defer results.Close()

	deleted := 0
	for range snapshot {
		tag, err := results.Exec()
		if err != nil {
			return deleted, fmt.Errorf("conditional delete kv entry: %w", err)
		}
		deleted += int(tag.RowsAffected())
	}
	return deleted, nil
}

func (b *PostgresBackend) Keys(ctx context.Context) ([]string, error) {
	const query = `SELECT key FROM kv_entries WHERE namespace=$1 ORDER BY key`

	rows, err := b.db.Query(ctx, query, b.namespace)
	if err != nil {
		return nil, fmt.Errorf("select kv keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect kv keys: %w", err)
	}
	return keys, nil
}

func (b *PostgresBackend) Clear(ctx context.Context) error {
	const query = `DELETE FROM kv_entries WHERE namespace=$1`

	if _, err := b.db.Exec(ctx, query, b.namespace); err != nil {
		return fmt.Errorf("clear kv entries: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to persistence.Postgres.
func (b *PostgresBackend) Close() error {
	return nil
}

var _ Backend = (*PostgresBackend)(nil)
