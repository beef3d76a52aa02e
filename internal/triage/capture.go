package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/camera"
	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// CaptureStore persists the face crops of a candidate.
type CaptureStore interface {
	SaveCapture(candidateID string, attempt int, data []byte) (string, error)
	Discard(candidateID string) error
}

// Session gathers corroborating crops of one candidate over a fixed number of attempts.
type Session struct {
	Camera    camera.Source
	Engine    engine.Engine
	Store     CaptureStore
	Attempts  int
	Interval  time.Duration
	Tolerance float64
	Log       zerolog.Logger

	// Crop defaults to camera.Crop.
	Crop func(frame []byte, box types.BoundingBox) ([]byte, error)
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run performs the attempts and appends every stored crop to c.Images.
// Misses are silent. It stops early only when ctx is cancelled.
func (s *Session) Run(ctx context.Context, c *Candidate) (int, error) {
	crop := s.Crop
	if crop == nil {
		crop = camera.Crop
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	log := s.Log.With().Str("candidate", c.ID).Str("session", uuid.NewString()).Logger()

	for attempt := 1; attempt <= s.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return len(c.Images), err
		}
		if path, ok := s.attempt(ctx, c, attempt, crop, log); ok {
			c.Images = append(c.Images, path)
			log.Debug().Int("attempt", attempt).Int("images", len(c.Images)).Msg("capture hit")
		}
		if attempt < s.Attempts {
			if err := sleep(ctx, s.Interval); err != nil {
				return len(c.Images), err
			}
		}
	}
	return len(c.Images), nil
}

func (s *Session) attempt(ctx context.Context, c *Candidate, attempt int, crop func([]byte, types.BoundingBox) ([]byte, error), log zerolog.Logger) (string, bool) {
	frame, ok := s.Camera.CaptureFrame(ctx)
	if !ok {
		return "", false
	}
	boxes, embs, err := engine.Faces(ctx, s.Engine, frame)
	if err != nil {
		log.Debug().Err(err).Int("attempt", attempt).Msg("capture: engine")
		return "", false
	}
	for i, emb := range embs {
		d := s.Engine.Distance(emb, c.Target)
		if d >= s.Tolerance {
			continue
		}
		data, err := crop(frame.Data, boxes[i])
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("capture: crop")
			return "", false
		}
		path, err := s.Store.SaveCapture(c.ID, attempt, data)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("capture: save")
			return "", false
		}
		return path, true
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
