package triage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/enroll"
	"github.com/andresmejia3/sentinel-watch/internal/metrics"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// Channel is the outbound half of the review transport.
type Channel interface {
	SendPhotoWithCaption(ctx context.Context, image []byte, caption string) error
	SendText(ctx context.Context, text string) error
}

// Promoter moves and discards candidate imagery.
type Promoter interface {
	Relabel(candidateID, name string) ([]string, error)
	Discard(candidateID string) error
}

// StatSource confirms that regenerated embeddings reached the store.
type StatSource interface {
	Stat(ctx context.Context, name string) (store.Stat, bool, error)
}

// Reloader refreshes the in-memory embedding snapshot.
type Reloader interface {
	Reload(ctx context.Context) (*store.Snapshot, error)
}

const timestampLayout = "02/01/2006 15:04:05"

// Reviewer-facing texts.
const (
	msgReady      = "🤖 Sentinel is running. Unknown people will be sent here for review."
	msgQuestion   = "❓ Do you know this person? (Yes / No)"
	msgAskName    = "✍️ What is their name?"
	msgHintAnswer = "Please answer Yes or No."
	msgHintName   = "Please send the person's name (letters, spaces, hyphens)."
	msgBusy       = "⏳ Still working on your previous answer, one moment."
	msgNoPending  = "Nobody is waiting for review."
	msgUnknownCmd = "Commands: /status, /pending"
)

var errEnrollTimeout = errors.New("enrollment not confirmed in time")

// Resolver drives the review slot from reviewer replies and sends every
// outbound notice.
type Resolver struct {
	State    *State
	Channel  Channel
	Images   Promoter
	Trigger  enroll.Trigger
	Stats    StatSource
	Cache    Reloader
	Timeout  time.Duration
	Poll     time.Duration
	Log      zerolog.Logger
	Now      func() time.Time
	ReadFile func(path string) ([]byte, error)
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) readFile(path string) ([]byte, error) {
	if r.ReadFile != nil {
		return r.ReadFile(path)
	}
	return os.ReadFile(path)
}

// Dispatch sends the review notice of the candidate that just took the slot.
func (r *Resolver) Dispatch(ctx context.Context, c *Candidate) {
	caption := fmt.Sprintf("🕵️ Unknown person detected (%s) at %s", c.ID, c.FirstSeen.Format(timestampLayout))
	img, err := r.readFile(c.Cover())
	if err != nil {
		r.Log.Warn().Err(err).Str("candidate", c.ID).Msg("cover image unreadable, sending text only")
		r.send(ctx, "review", caption)
	} else {
		err = r.Channel.SendPhotoWithCaption(ctx, img, caption)
		metrics.NoticesSent.WithLabelValues("review", metrics.Result(err)).Inc()
		if err != nil {
			r.Log.Error().Err(err).Str("candidate", c.ID).Msg("review notice failed; /pending re-sends it")
		}
	}
	r.send(ctx, "review", msgQuestion)
	r.Log.Info().Str("candidate", c.ID).Int("images", len(c.Images)).Msg("candidate under review")
}

// NotifyKnown sends a "seen" notice with the full frame.
func (r *Resolver) NotifyKnown(ctx context.Context, name string, frame types.Frame) {
	at := frame.CapturedAt
	if at.IsZero() {
		at = r.now()
	}
	err := r.Channel.SendPhotoWithCaption(ctx, frame.Data, fmt.Sprintf("✅ %s was detected at %s", name, at.Format(timestampLayout)))
	metrics.NoticesSent.WithLabelValues("known", metrics.Result(err)).Inc()
	if err != nil {
		r.Log.Warn().Err(err).Str("identity", name).Msg("known notice failed")
	}
}

func (r *Resolver) send(ctx context.Context, kind, text string) {
	err := r.Channel.SendText(ctx, text)
	metrics.NoticesSent.WithLabelValues(kind, metrics.Result(err)).Inc()
	if err != nil {
		r.Log.Warn().Err(err).Msg("send failed")
	}
}

func (r *Resolver) reply(ctx context.Context, text string) { r.send(ctx, "reply", text) }

// HandleMessage interprets one reviewer message against the candidate holding
// the review slot. It blocks while an enrollment is confirmed.
func (r *Resolver) HandleMessage(ctx context.Context, text string) {
	kind, token := classify(text)
	if kind == replyCommand {
		metrics.ReviewRepliesReceived.WithLabelValues("command").Inc()
		r.command(ctx, token)
		return
	}

	active, phase := r.State.Current()
	if active == nil {
		metrics.ReviewRepliesReceived.WithLabelValues("idle").Inc()
		r.reply(ctx, msgNoPending)
		return
	}

	switch phase {
	case PhaseAwaitingAnswer:
		switch kind {
		case replyYes:
			metrics.ReviewRepliesReceived.WithLabelValues("yes").Inc()
			if r.State.Claim(active.ID, PhaseAwaitingAnswer, PhaseAwaitingName) {
				r.reply(ctx, msgAskName)
			}
		case replyNo:
			metrics.ReviewRepliesReceived.WithLabelValues("no").Inc()
			r.discard(ctx, active)
		default:
			metrics.ReviewRepliesReceived.WithLabelValues("other").Inc()
			r.reply(ctx, msgHintAnswer)
		}
	case PhaseAwaitingName:
		name, ok := normalizeName(token)
		if kind != replyOther || !ok {
			metrics.ReviewRepliesReceived.WithLabelValues("other").Inc()
			r.reply(ctx, msgHintName)
			return
		}
		metrics.ReviewRepliesReceived.WithLabelValues("name").Inc()
		r.promote(ctx, active, name)
	default:
		metrics.ReviewRepliesReceived.WithLabelValues("busy").Inc()
		r.reply(ctx, msgBusy)
	}
}

func (r *Resolver) command(ctx context.Context, cmd string) {
	switch cmd {
	case "start":
		r.reply(ctx, msgReady)
	case "status":
		sum := r.State.Summary()
		state := "enabled"
		if !sum.Enabled {
			state = "disabled"
		}
		review := "none"
		if sum.UnderReview != "" {
			review = fmt.Sprintf("%s (%s)", sum.UnderReview, strings.ToLower(string(sum.Phase)))
		}
		r.reply(ctx, fmt.Sprintf("📊 Detection %s\nUnder review: %s\nQueued: %d\nToday: %d", state, review, len(sum.Queued), sum.TodayCount))
	case "pending":
		active, phase := r.State.Current()
		switch {
		case active == nil:
			r.reply(ctx, msgNoPending)
		case phase == PhaseAwaitingAnswer:
			r.Dispatch(ctx, active)
		default:
			r.reply(ctx, fmt.Sprintf("%s is %s.", active.ID, strings.ToLower(string(phase))))
		}
	default:
		r.reply(ctx, msgUnknownCmd)
	}
}

func (r *Resolver) discard(ctx context.Context, c *Candidate) {
	if !r.State.Claim(c.ID, PhaseAwaitingAnswer, PhaseDiscarding) {
		return
	}
	if err := r.Images.Discard(c.ID); err != nil {
		r.Log.Warn().Err(err).Str("candidate", c.ID).Msg("could not delete candidate images")
	}
	next, _ := r.State.Resolve(c.ID, StatusDiscarded)
	metrics.CandidatesFinished.WithLabelValues("discarded").Inc()
	r.Log.Info().Str("candidate", c.ID).Msg("candidate discarded")
	r.reply(ctx, fmt.Sprintf("🗑️ %s discarded.", c.ID))
	r.advance(ctx, next)
}

func (r *Resolver) promote(ctx context.Context, c *Candidate, name string) {
	if !r.State.Claim(c.ID, PhaseAwaitingName, PhaseEnrolling) {
		return
	}
	log := r.Log.With().Str("candidate", c.ID).Str("identity", name).Logger()

	if _, err := r.Images.Relabel(c.ID, name); err != nil {
		log.Error().Err(err).Msg("relabel failed")
		r.State.Release(c.ID)
		r.reply(ctx, fmt.Sprintf("⚠️ Could not save the images as %s. Send the name again to retry.", name))
		return
	}

	r.reply(ctx, fmt.Sprintf("⏳ Saving %s and generating embeddings...", name))
	start := r.now()
	err := r.awaitEnrollment(ctx, name, start, r.Trigger.Start(ctx, name))

	var msg, outcome string
	switch {
	case err == nil:
		outcome = "ok"
		count := 0
		if st, ok, _ := r.Stats.Stat(ctx, name); ok {
			count = st.Count
		}
		msg = fmt.Sprintf("✅ %s enrolled (%d embeddings).", name, count)
	case errors.Is(err, enroll.ErrNoUsableImages):
		outcome = "no_usable_images"
		msg = fmt.Sprintf("⚠️ No usable face was found in the images for %s. Nothing was enrolled.", name)
	case errors.Is(err, enroll.ErrPersist):
		outcome = "persist_failed"
		msg = fmt.Sprintf("⚠️ Could not store the embeddings for %s. The previous data was kept.", name)
	case errors.Is(err, errEnrollTimeout):
		outcome = "timeout"
		msg = fmt.Sprintf("⏳ %s is still being processed; the embeddings will be picked up on the next reload.", name)
	default:
		outcome = "error"
		msg = fmt.Sprintf("⚠️ Embedding generation for %s failed: %v", name, err)
	}
	metrics.EnrollmentDuration.WithLabelValues(outcome).Observe(r.now().Sub(start).Seconds())
	if err != nil {
		log.Warn().Err(err).Msg("enrollment did not complete")
	}

	if _, rerr := r.Cache.Reload(ctx); rerr != nil {
		log.Warn().Err(rerr).Msg("reload after enrollment failed")
	}
	metrics.StoreReloads.WithLabelValues("enroll").Inc()

	next, _ := r.State.Resolve(c.ID, StatusResolved)
	metrics.CandidatesFinished.WithLabelValues("promoted").Inc()
	log.Info().Str("outcome", outcome).Msg("candidate resolved")
	r.reply(ctx, msg)
	r.advance(ctx, next)
}

// awaitEnrollment waits for the trigger to finish and the store to show the
// identity, bounded by Timeout. Before the trigger reports, only an update at
// or after since counts as confirmation.
func (r *Resolver) awaitEnrollment(ctx context.Context, name string, since time.Time, done <-chan error) error {
	deadline := time.NewTimer(r.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.Poll)
	defer ticker.Stop()

	finished := false
	confirmed := func() bool {
		st, ok, err := r.Stats.Stat(ctx, name)
		if err != nil || !ok || st.Count == 0 {
			return false
		}
		return finished || !st.UpdatedAt.Before(since)
	}

	for {
		select {
		case err, ok := <-done:
			done = nil
			if ok && err != nil {
				return err
			}
			finished = true
			if confirmed() {
				return nil
			}
		case <-ticker.C:
			if confirmed() {
				return nil
			}
		case <-deadline.C:
			return errEnrollTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Resolver) advance(ctx context.Context, next *Candidate) {
	if next != nil {
		r.Dispatch(ctx, next)
	}
}
