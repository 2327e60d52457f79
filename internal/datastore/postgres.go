package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a PostgreSQL connection pool with production-ready
// settings, adapted from the teacher's db.NewPool. The pool does NOT
// validate connectivity at creation time; call pool.Ping(ctx) after
// construction to verify the database is reachable.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	return pool, nil
}

// PostgresStore is a PersistentDataStore backed by a single table:
//
//	items(kind text, key text, version int, deleted bool, data jsonb,
//	      primary key (kind, key))
//
// The teacher's sqlc-generated query package (internal/db/gen) modeled
// a single-entity "flags" table and is not present in this retrieved
// pack, so queries here are hand-written against a schema general
// enough to hold every DataKind side by side.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const createItemsTable = `
CREATE TABLE IF NOT EXISTS items (
	kind    text NOT NULL,
	key     text NOT NULL,
	version integer NOT NULL,
	deleted boolean NOT NULL DEFAULT false,
	data    jsonb,
	PRIMARY KEY (kind, key)
)`

// EnsureSchema creates the backing table if it does not already exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, createItemsTable)
	return err
}

// Get retrieves a single serialized item.
func (p *PostgresStore) Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.SerializedItem, bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT version, deleted, data FROM items WHERE kind = $1 AND key = $2`,
		string(kind), key)
	var item flagmodel.SerializedItem
	if err := row.Scan(&item.Version, &item.Deleted, &item.Data); err != nil {
		if err == pgx.ErrNoRows {
			return flagmodel.SerializedItem{}, false, nil
		}
		return flagmodel.SerializedItem{}, false, fmt.Errorf("get %s/%s: %w", kind, key, err)
	}
	return item, true, nil
}

// All retrieves every serialized item of a kind, including tombstones
// (the caller decides whether to surface deletions).
func (p *PostgresStore) All(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.SerializedItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, version, deleted, data FROM items WHERE kind = $1`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("all %s: %w", kind, err)
	}
	defer rows.Close()

	out := make(map[string]flagmodel.SerializedItem)
	for rows.Next() {
		var key string
		var item flagmodel.SerializedItem
		if err := rows.Scan(&key, &item.Version, &item.Deleted, &item.Data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", kind, err)
		}
		out[key] = item
	}
	return out, rows.Err()
}

// Init replaces the contents of every kind transactionally.
func (p *PostgresStore) Init(ctx context.Context, data map[flagmodel.DataKind]map[string]flagmodel.SerializedItem) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin init tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for kind := range data {
		if _, err := tx.Exec(ctx, `DELETE FROM items WHERE kind = $1`, string(kind)); err != nil {
			return fmt.Errorf("clear %s: %w", kind, err)
		}
	}
	for kind, items := range data {
		for key, item := range items {
			if _, err := tx.Exec(ctx,
				`INSERT INTO items (kind, key, version, deleted, data) VALUES ($1,$2,$3,$4,$5)`,
				string(kind), key, item.Version, item.Deleted, item.Data); err != nil {
				return fmt.Errorf("insert %s/%s: %w", kind, key, err)
			}
		}
	}
	return tx.Commit(ctx)
}

// Upsert writes a single item if its version is newer than what is
// stored, returning whether the write applied.
func (p *PostgresStore) Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.SerializedItem) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO items (kind, key, version, deleted, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, key) DO UPDATE
			SET version = EXCLUDED.version, deleted = EXCLUDED.deleted, data = EXCLUDED.data
			WHERE items.version < EXCLUDED.version`,
		string(kind), key, item.Version, item.Deleted, item.Data)
	if err != nil {
		return false, fmt.Errorf("upsert %s/%s: %w", kind, key, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Initialized reports whether the items table currently holds at
// least one row.
func (p *PostgresStore) Initialized(ctx context.Context) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items LIMIT 1)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check initialized: %w", err)
	}
	return exists, nil
}

// IsAvailable is used by PersistentWrapper's outage poller to decide
// whether the store has recovered.
func (p *PostgresStore) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx) == nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
