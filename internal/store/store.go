// Package store persists identity embeddings and serves read-only snapshots of them.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// ErrUnknownDriver is returned by Open for an unsupported backend name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Stat summarizes one identity without its vectors.
type Stat struct {
	Name      string
	Count     int
	UpdatedAt time.Time
}

// Store is the durable name -> embeddings mapping.
//
// LoadAll returns identities ordered by name with embeddings in insertion order.
// SaveFor replaces the identity's embedding set in one transaction, so a failed
// write leaves the previous set untouched and concurrent readers see old or new, never a mix.
type Store interface {
	LoadAll(ctx context.Context) ([]types.Identity, error)
	SaveFor(ctx context.Context, name string, embeddings []types.Embedding) error
	Stat(ctx context.Context, name string) (Stat, bool, error)
	Names(ctx context.Context) ([]Stat, error)
	Reset(ctx context.Context) error
	Close()
}

// Options selects and configures a backend.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
}

// Open connects to the configured backend and ensures its schema exists.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath, log)
	case "postgres":
		return OpenPostgres(ctx, opts.PostgresURL, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// validVector rejects vectors that can never take part in a comparison.
func validVector(v []float64) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
