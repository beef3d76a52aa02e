// Package matcher classifies an embedding against the enrolled identities.
package matcher

import (
	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Result is the outcome of one classification.
type Result struct {
	Name     string
	Distance float64
	Known    bool
}

// Match walks the snapshot in order and returns the first entry closer than tolerance.
// This is first-match, not nearest: with overlapping identities the earlier one wins.
func Match(query types.Embedding, snap *store.Snapshot, dist engine.DistanceFunc, tolerance float64) Result {
	if snap == nil {
		return Result{}
	}
	for _, entry := range snap.Entries {
		if d := dist(query, entry.Embedding); d < tolerance {
			return Result{Name: entry.Name, Distance: d, Known: true}
		}
	}
	return Result{}
}
