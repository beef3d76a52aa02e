package triage

import (
	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

type liveEntry struct {
	id     string
	target types.Embedding
}

// LiveBuffer holds the target embeddings of candidates that are capturing,
// queued or under review. It is not synchronized; State guards it.
type LiveBuffer struct {
	entries []liveEntry
}

// Matches reports the first in-flight candidate within tolerance of emb.
func (b *LiveBuffer) Matches(emb types.Embedding, dist engine.DistanceFunc, tolerance float64) (string, bool) {
	for _, e := range b.entries {
		if dist(emb, e.target) < tolerance {
			return e.id, true
		}
	}
	return "", false
}

func (b *LiveBuffer) Add(id string, target types.Embedding) {
	b.entries = append(b.entries, liveEntry{id: id, target: target})
}

// Remove drops the entry of candidate id. Reports whether it was present.
func (b *LiveBuffer) Remove(id string) bool {
	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (b *LiveBuffer) Len() int { return len(b.entries) }
