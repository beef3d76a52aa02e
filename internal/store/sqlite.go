package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite stores embeddings as JSON arrays in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
	now  func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &SQLite{db: db, path: path, log: log, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// LoadAll reads every identity. Rows whose vector cannot be decoded are skipped with a warning.
func (s *SQLite) LoadAll(ctx context.Context) ([]types.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.name, i.updated_at, e.id, e.vector
		FROM identities i
		JOIN embeddings e ON e.name = i.name
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
			updated int64
			id      int64
			raw     string
		)
		if err := rows.Scan(&name, &updated, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil || !validVector(vec) {
			s.log.Warn().Str("identity", name).Int64("row", id).Msg("skipping malformed embedding")
			continue
		}
		if n := len(out); n == 0 || out[n-1].Name != name {
			out = append(out, types.Identity{Name: name, UpdatedAt: time.Unix(0, updated)})
		}
		last := &out[len(out)-1]
		last.Embeddings = append(last.Embeddings, types.Embedding(vec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// SaveFor replaces name's embeddings atomically.
func (s *SQLite) SaveFor(ctx context.Context, name string, embeddings []types.Embedding) error {
	if name == "" {
		return errors.New("identity name is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identities (name, updated_at) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at
	`, name, now); err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}
	for _, emb := range embeddings {
		raw, err := json.Marshal([]float64(emb))
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO embeddings (name, vector) VALUES (?, ?)`, name, string(raw)); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Stat reports one identity's embedding count and last update.
func (s *SQLite) Stat(ctx context.Context, name string) (Stat, bool, error) {
	var (
		st      = Stat{Name: name}
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.updated_at, COUNT(e.id)
		FROM identities i LEFT JOIN embeddings e ON e.name = i.name
		WHERE i.name = ?
		GROUP BY i.name
	`, name).Scan(&updated, &st.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return Stat{}, false, nil
	}
	if err != nil {
		return Stat{}, false, fmt.Errorf("stat identity: %w", err)
	}
	st.UpdatedAt = time.Unix(0, updated)
	return st, true, nil
}

// Names lists every identity with its embedding count, ordered by name.
func (s *SQLite) Names(ctx context.Context) ([]Stat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.name, i.updated_at, COUNT(e.id)
		FROM identities i LEFT JOIN embeddings e ON e.name = i.name
		GROUP BY i.name
		ORDER BY i.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []Stat
	for rows.Next() {
		var (
			st      Stat
			updated int64
		)
		if err := rows.Scan(&st.Name, &updated, &st.Count); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		st.UpdatedAt = time.Unix(0, updated)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Reset deletes every identity.
func (s *SQLite) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings; DELETE FROM identities;`)
	return err
}
