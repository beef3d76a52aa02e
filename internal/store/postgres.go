package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Postgres stores embeddings in pgvector columns.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres establishes a pool and ensures the schema is initialized.
func OpenPostgres(ctx context.Context, connString string, log zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{pool: pool, log: log}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			name TEXT PRIMARY KEY,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS identity_embeddings (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL REFERENCES identities(name) ON DELETE CASCADE,
			embedding VECTOR NOT NULL
		);
		CREATE INDEX IF NOT EXISTS identity_embeddings_name_idx ON identity_embeddings (name, id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// LoadAll reads every identity ordered by name then insertion order.
func (p *Postgres) LoadAll(ctx context.Context) ([]types.Identity, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT i.name, i.updated_at, e.id, e.embedding
		FROM identities i
		JOIN identity_embeddings e ON e.name = i.name
		ORDER BY i.name, e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var out []types.Identity
	for rows.Next() {
		var (
			name    string
			updated time.Time
			id      int64
			vec     pgvector.Vector
		)
		if err := rows.Scan(&name, &updated, &id, &vec); err != nil {
			p.log.Warn().Err(err).Str("identity", name).Int64("row", id).Msg("skipping malformed embedding")
			continue
		}
		f64 := toFloat64(vec.Slice())
		if !validVector(f64) {
			p.log.Warn().Str("identity", name).Int64("row", id).Msg("skipping malformed embedding")
			continue
		}
		if n := len(out); n == 0 || out[n-1].Name != name {
			out = append(out, types.Identity{Name: name, UpdatedAt: updated})
		}
		last := &out[len(out)-1]
		last.Embeddings = append(last.Embeddings, f64)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// SaveFor replaces name's embeddings in one transaction.
func (p *Postgres) SaveFor(ctx context.Context, name string, embeddings []types.Embedding) error {
	if name == "" {
		return errors.New("identity name is required")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO identities (name, updated_at) VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
	`, name); err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM identity_embeddings WHERE name = $1`, name); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}

	batch := &pgx.Batch{}
	for _, emb := range embeddings {
		batch.Queue(`INSERT INTO identity_embeddings (name, embedding) VALUES ($1, $2)`, name, pgvector.NewVector(toFloat32(emb)))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert embeddings: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Stat reports one identity's embedding count and last update.
func (p *Postgres) Stat(ctx context.Context, name string) (Stat, bool, error) {
	st := Stat{Name: name}
	err := p.pool.QueryRow(ctx, `
		SELECT i.updated_at, COUNT(e.id)
		FROM identities i LEFT JOIN identity_embeddings e ON e.name = i.name
		WHERE i.name = $1
		GROUP BY i.name, i.updated_at
	`, name).Scan(&st.UpdatedAt, &st.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stat{}, false, nil
	}
	if err != nil {
		return Stat{}, false, fmt.Errorf("stat identity: %w", err)
	}
	return st, true, nil
}

// Names lists every identity ordered by name.
func (p *Postgres) Names(ctx context.Context) ([]Stat, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT i.name, i.updated_at, COUNT(e.id)
		FROM identities i LEFT JOIN identity_embeddings e ON e.name = i.name
		GROUP BY i.name, i.updated_at
		ORDER BY i.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []Stat
	for rows.Next() {
		var st Stat
		if err := rows.Scan(&st.Name, &st.UpdatedAt, &st.Count); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state and recreates them.
func (p *Postgres) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `
		DROP TABLE IF EXISTS identity_embeddings CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`); err != nil {
		return err
	}
	return initSchema(ctx, p.pool)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
