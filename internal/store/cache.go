package store

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Entry is one enrolled embedding tagged with its identity.
type Entry struct {
	Name      string
	Embedding types.Embedding
}

// Snapshot is an immutable view of the store. Entries are ordered by identity
// name, then by insertion order within an identity.
type Snapshot struct {
	Entries    []Entry
	Identities int
	LoadedAt   time.Time
}

// Cache holds the current Snapshot. Reload swaps in a new one; readers
// holding an older Snapshot are unaffected.
type Cache struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
	snap  atomic.Pointer[Snapshot]
}

// NewCache returns a cache that serves an empty snapshot until the first Reload.
func NewCache(s Store, log zerolog.Logger) *Cache {
	c := &Cache{store: s, log: log, now: time.Now}
	c.snap.Store(&Snapshot{})
	return c
}

// Snapshot returns the current view. Never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Reload reads the store and publishes a fresh snapshot.
// On error the previous snapshot stays in place.
func (c *Cache) Reload(ctx context.Context) (*Snapshot, error) {
	identities, err := c.store.LoadAll(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("embedding store reload failed, keeping previous snapshot")
		return c.Snapshot(), err
	}

	sort.SliceStable(identities, func(i, j int) bool { return identities[i].Name < identities[j].Name })

	snap := &Snapshot{LoadedAt: c.now()}
	for _, id := range identities {
		if id.Name == "" {
			c.log.Warn().Msg("skipping identity with empty name")
			continue
		}
		kept := 0
		for _, emb := range id.Embeddings {
			if !validVector(emb) {
				c.log.Warn().Str("identity", id.Name).Msg("skipping malformed embedding")
				continue
			}
			snap.Entries = append(snap.Entries, Entry{Name: id.Name, Embedding: emb})
			kept++
		}
		if kept > 0 {
			snap.Identities++
		}
	}

	c.snap.Store(snap)
	c.log.Debug().Int("identities", snap.Identities).Int("embeddings", len(snap.Entries)).Msg("embedding store reloaded")
	return snap, nil
}
