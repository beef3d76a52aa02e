package triage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/camera"
	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/matcher"
	"github.com/andresmejia3/sentinel-watch/internal/metrics"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Notifier sends the loop's outbound notices.
type Notifier interface {
	NotifyKnown(ctx context.Context, name string, frame types.Frame)
	Dispatch(ctx context.Context, c *Candidate)
}

// Snapshotter serves and refreshes the embedding snapshot.
type Snapshotter interface {
	Snapshot() *store.Snapshot
	Reload(ctx context.Context) (*store.Snapshot, error)
}

// Loop is the sensing loop. Serve runs it as a supervised service.
type Loop struct {
	State     *State
	Cache     Snapshotter
	Camera    camera.Source
	Engine    engine.Engine
	Session   *Session
	Notifier  Notifier
	Tolerance float64
	MinImages int
	Interval  time.Duration
	Reload    time.Duration
	Log       zerolog.Logger
	Now       func() time.Time

	lastReload time.Time
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Serve ticks until ctx is cancelled.
func (l *Loop) Serve(ctx context.Context) error {
	l.Log.Info().Dur("interval", l.Interval).Dur("reload", l.Reload).Msg("sensing loop started")
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		if err := l.Tick(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) String() string { return "sensing-loop" }

// Tick is one cycle: flag check, day roll, periodic reload, then one frame.
// Only context cancellation is returned as an error; everything else is logged and skipped.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.LoopTickDuration.Observe(time.Since(start).Seconds()) }()

	if !l.State.Enabled() {
		return nil
	}
	now := l.now()
	if l.State.RollDay(now) {
		l.Log.Info().Str("date", now.Format(time.DateOnly)).Msg("daily candidate counter reset")
	}
	if l.Reload > 0 && now.Sub(l.lastReload) >= l.Reload {
		_, err := l.Cache.Reload(ctx)
		metrics.StoreReloads.WithLabelValues(metrics.Result(err)).Inc()
		l.lastReload = now
	}

	frame, ok := l.Camera.CaptureFrame(ctx)
	if !ok {
		metrics.FramesCaptured.WithLabelValues("failed").Inc()
		return ctx.Err()
	}
	metrics.FramesCaptured.WithLabelValues("ok").Inc()
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = now
	}

	_, embs, err := engine.Faces(ctx, l.Engine, frame)
	if err != nil {
		l.Log.Debug().Err(err).Msg("tick skipped")
		return ctx.Err()
	}

	snap := l.Cache.Snapshot()
	for _, emb := range embs {
		// A capture session for an earlier face may have taken many seconds.
		seen := l.now()
		res := matcher.Match(emb, snap, l.Engine.Distance, l.Tolerance)
		if res.Known {
			metrics.FacesClassified.WithLabelValues("known").Inc()
			if l.State.ShouldNotify(res.Name, seen) {
				l.Log.Info().Str("identity", res.Name).Float64("distance", res.Distance).Msg("known subject seen")
				l.Notifier.NotifyKnown(ctx, res.Name, frame)
			}
			continue
		}

		c, fresh := l.State.Admit(emb, seen)
		if !fresh {
			metrics.FacesClassified.WithLabelValues("duplicate").Inc()
			continue
		}
		metrics.FacesClassified.WithLabelValues("unknown").Inc()
		metrics.CandidatesCreated.Inc()
		if err := l.capture(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// capture runs the session for a new candidate and hands the result to the queue.
func (l *Loop) capture(ctx context.Context, c *Candidate) error {
	log := l.Log.With().Str("candidate", c.ID).Logger()
	log.Info().Msg("new unknown subject, capturing")

	n, err := l.Session.Run(ctx, c)
	if err != nil {
		// Shutdown mid-session: leave nothing half-registered.
		l.drop(c, "discarded")
		return err
	}
	if n < l.MinImages {
		log.Info().Int("images", n).Int("min", l.MinImages).Msg("too few images, candidate dropped")
		l.drop(c, "too_few_images")
		return nil
	}

	dispatch, dropped, err := l.State.Enqueue(c)
	if dropped != nil {
		log.Warn().Str("dropped", dropped.ID).Msg("review queue full, oldest candidate dropped")
		l.discardImages(dropped.ID)
		metrics.CandidatesFinished.WithLabelValues("dropped").Inc()
	}
	if errors.Is(err, ErrQueueFull) {
		log.Warn().Msg("review queue full, candidate rejected")
		l.discardImages(c.ID)
		metrics.CandidatesFinished.WithLabelValues("rejected").Inc()
		return nil
	}
	if dispatch == nil {
		log.Info().Int("images", n).Msg("candidate queued behind current review")
		return nil
	}
	l.Notifier.Dispatch(ctx, dispatch)
	return nil
}

func (l *Loop) drop(c *Candidate, outcome string) {
	l.discardImages(c.ID)
	l.State.Abandon(c)
	metrics.CandidatesFinished.WithLabelValues(outcome).Inc()
}

func (l *Loop) discardImages(id string) {
	if err := l.Session.Store.Discard(id); err != nil {
		l.Log.Warn().Err(err).Str("candidate", id).Msg("could not delete candidate images")
	}
}
