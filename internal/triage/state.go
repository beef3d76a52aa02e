package triage

import (
	"errors"
	"sync"
	"time"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/metrics"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Overflow policies for a bounded review queue.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowRejectNew  = "reject_new"
)

// ErrQueueFull is returned by Enqueue under the reject_new policy.
var ErrQueueFull = errors.New("review queue is full")

// Options configures State.
type Options struct {
	Distance  engine.DistanceFunc
	Tolerance float64
	Cooldown  time.Duration
	// MaxQueue bounds the candidates waiting behind the review slot. 0 is unbounded.
	MaxQueue int
	Overflow string
	Enabled  bool
}

// State is the aggregate triage state shared by the sensing loop and the
// review handler. Every method is atomic with respect to the others.
//
// Invariants, under mu:
//   - at most one candidate (active) is UNDER_REVIEW
//   - active == nil implies queue is empty
//   - every candidate CAPTURING, QUEUED or UNDER_REVIEW has exactly one buffer entry
type State struct {
	dist      engine.DistanceFunc
	tolerance float64
	maxQueue  int
	overflow  string

	mu       sync.Mutex
	enabled  bool
	buffer   LiveBuffer
	throttle *Throttle
	counter  Counter
	queue    []*Candidate
	active   *Candidate
	phase    Phase
}

func NewState(opts Options) *State {
	if opts.Distance == nil {
		opts.Distance = engine.Euclidean
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowDropOldest
	}
	s := &State{
		dist:      opts.Distance,
		tolerance: opts.Tolerance,
		maxQueue:  opts.MaxQueue,
		overflow:  opts.Overflow,
		enabled:   opts.Enabled,
		throttle:  NewThrottle(opts.Cooldown),
	}
	metrics.DetectionEnabled.Set(boolGauge(opts.Enabled))
	return s
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Enabled reports the administrative detection flag.
func (s *State) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips the detection flag. The loop checks it once per tick.
func (s *State) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
	metrics.DetectionEnabled.Set(boolGauge(on))
}

// RollDay resets the daily counter at local-date rollover.
func (s *State) RollDay(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter.Roll(now)
}

// ShouldNotify applies the per-identity cool-down.
func (s *State) ShouldNotify(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle.Allow(name, now)
}

// Admit checks emb against the in-flight candidates. A repeat sighting returns
// ok=false. Otherwise a CAPTURING candidate is created and registered in the
// buffer in the same critical section, so two sightings cannot both be admitted.
func (s *State) Admit(emb types.Embedding, now time.Time) (*Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.buffer.Matches(emb, s.dist, s.tolerance); dup {
		return nil, false
	}
	seq := s.counter.Next(now)
	c := &Candidate{
		ID:        candidateID(now, seq),
		Seq:       seq,
		Target:    emb,
		FirstSeen: now,
		Status:    StatusCapturing,
	}
	s.buffer.Add(c.ID, emb)
	s.publishLocked()
	return c, true
}

// Abandon discards a candidate that never reached the queue.
func (s *State) Abandon(c *Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Status = StatusDiscarded
	s.buffer.Remove(c.ID)
	s.publishLocked()
}

// Enqueue moves a captured candidate into review. If the slot is free the
// candidate takes it and is returned as dispatch; the caller must send its
// notice. dropped is a queued candidate evicted by the drop_oldest policy.
func (s *State) Enqueue(c *Candidate) (dispatch, dropped *Candidate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()

	if s.active == nil {
		s.claimLocked(c)
		return c, nil, nil
	}

	if s.maxQueue > 0 && len(s.queue) >= s.maxQueue {
		if s.overflow == OverflowRejectNew {
			c.Status = StatusDiscarded
			s.buffer.Remove(c.ID)
			return nil, nil, ErrQueueFull
		}
		dropped = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		dropped.Status = StatusDiscarded
		s.buffer.Remove(dropped.ID)
	}

	c.Status = StatusQueued
	s.queue = append(s.queue, c)
	return nil, dropped, nil
}

func (s *State) claimLocked(c *Candidate) {
	c.Status = StatusUnderReview
	s.active = c
	s.phase = PhaseAwaitingAnswer
}

// Current returns the candidate under review and its phase.
func (s *State) Current() (*Candidate, Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.phase
}

// Claim moves the review slot from one phase to another if candidate id still
// holds it in phase from. Callers use it to take ownership of a reply before
// doing slow work outside the lock.
func (s *State) Claim(id string, from, to Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != id || s.phase != from {
		return false
	}
	s.phase = to
	return true
}

// Release hands the slot back to AWAITING_NAME after a failed relabel.
func (s *State) Release(id string) bool {
	return s.Claim(id, PhaseEnrolling, PhaseAwaitingName)
}

// Resolve closes the candidate under review with status (RESOLVED or
// DISCARDED), clears its buffer entry and promotes the queue head. The
// returned candidate, if any, now holds the slot and must be dispatched.
func (s *State) Resolve(id string, status Status) (*Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != id {
		return nil, false
	}
	s.active.Status = status
	s.buffer.Remove(id)
	s.active = nil
	s.phase = PhaseNone

	var next *Candidate
	if len(s.queue) > 0 {
		next = s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.claimLocked(next)
	}
	s.publishLocked()
	return next, true
}

// Summary is a point-in-time view for status reporting.
type Summary struct {
	Enabled     bool     `json:"enabled"`
	UnderReview string   `json:"under_review,omitempty"`
	Phase       Phase    `json:"phase,omitempty"`
	Queued      []string `json:"queued"`
	LiveBuffer  int      `json:"live_buffer"`
	TodayCount  int      `json:"today_count"`
}

func (s *State) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		Enabled:    s.enabled,
		Phase:      s.phase,
		Queued:     make([]string, 0, len(s.queue)),
		LiveBuffer: s.buffer.Len(),
		TodayCount: s.counter.Value(),
	}
	if s.active != nil {
		sum.UnderReview = s.active.ID
	}
	for _, c := range s.queue {
		sum.Queued = append(sum.Queued, c.ID)
	}
	return sum
}

func (s *State) publishLocked() {
	metrics.ReviewQueueDepth.Set(float64(len(s.queue)))
	metrics.LiveBufferSize.Set(float64(s.buffer.Len()))
}
