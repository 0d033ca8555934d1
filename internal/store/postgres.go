package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetroute/internal/distance"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres cache: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

const createDistanceCache = `
CREATE TABLE IF NOT EXISTS distance_cache (
	pair_key    TEXT PRIMARY KEY,
	km          DOUBLE PRECISION NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the cache table when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createDistanceCache); err != nil {
		return fmt.Errorf("postgres cache: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) GetMany(ctx context.Context, keys []distance.Key) (map[distance.Key]float64, error) {
	out := make(map[distance.Key]float64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	names := make([]string, 0, len(keys))
	byName := make(map[string]distance.Key, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, ok := byName[s]; ok {
			continue
		}
		byName[s] = k
		names = append(names, s)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT pair_key, km FROM distance_cache WHERE pair_key = ANY($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("postgres cache: query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		var km float64
		if err := rows.Scan(&name, &km); err != nil {
			return nil, fmt.Errorf("postgres cache: scan: %w", err)
		}
		if k, ok := byName[name]; ok {
			out[k] = km
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres cache: rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) PutMany(ctx context.Context, entries map[distance.Key]float64) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres cache: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO distance_cache (pair_key, km) VALUES ($1, $2)
	ON CONFLICT (pair_key) DO UPDATE SET km = EXCLUDED.km, updated_at = now()`)
	if err != nil {
		return fmt.Errorf("postgres cache: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for k, km := range entries {
		if _, err := stmt.ExecContext(ctx, k.String(), km); err != nil {
			return fmt.Errorf("postgres cache: insert %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres cache: commit: %w", err)
	}
	return nil
}

// Prune drops entries older than maxAge and returns how many went.
func (p *Postgres) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM distance_cache WHERE updated_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("postgres cache: prune: %w", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }
