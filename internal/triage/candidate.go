// Package triage runs the unknown-subject pipeline: sighting deduplication, targeted
// capture, the review queue with its single review slot, and known-subject notices.
package triage

import (
	"fmt"
	"time"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Status is the lifecycle position of a candidate.
type Status string

const (
	StatusCapturing   Status = "CAPTURING"
	StatusQueued      Status = "QUEUED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusResolved    Status = "RESOLVED"
	StatusDiscarded   Status = "DISCARDED"
)

// Phase refines UNDER_REVIEW for the candidate holding the review slot.
type Phase string

const (
	PhaseNone           Phase = ""
	PhaseAwaitingAnswer Phase = "AWAITING_ANSWER"
	PhaseAwaitingName   Phase = "AWAITING_NAME"
	// Enrolling and Discarding mark a reply being acted on; further replies get a "busy" hint.
	PhaseEnrolling  Phase = "ENROLLING"
	PhaseDiscarding Phase = "DISCARDING"
)

// Candidate is an unknown subject tracked from first sighting to resolution.
// Fields other than Status are written only by the capture session before the
// candidate is enqueued; Status is owned by State.
type Candidate struct {
	ID        string
	Seq       int
	Target    types.Embedding
	Images    []string
	FirstSeen time.Time
	Status    Status
}

func candidateID(day time.Time, seq int) string {
	return fmt.Sprintf("unknown_%s_%d", day.Format("20060102"), seq)
}

// Cover returns the image shown to the reviewer.
func (c *Candidate) Cover() string {
	if len(c.Images) == 0 {
		return ""
	}
	return c.Images[0]
}
