// Package enroll (re)generates the embeddings of one identity from its image collection.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

var (
	// ErrNoUsableImages means no image in the collection produced an embedding. The store is not touched.
	ErrNoUsableImages = errors.New("no usable images")
	// ErrPersist means the embeddings could not be written. The previous set is kept.
	ErrPersist = errors.New("could not persist embeddings")
)

// Exit codes of `sentinel regenerate`, read back by the subprocess trigger.
const (
	ExitOK             = 0
	ExitNoUsableImages = 2
	ExitPersist        = 3
)

// ExitCode maps a Regenerate error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrPersist):
		return ExitPersist
	case errors.Is(err, ErrNoUsableImages):
		return ExitNoUsableImages
	default:
		return 1
	}
}

// Report summarizes one regeneration.
type Report struct {
	Name     string
	Images   int
	Used     int
	Skipped  int
	Duration time.Duration
}

// ImageSource lists the image files of an identity.
type ImageSource interface {
	Images(name string) ([]string, error)
}

// Enroller rebuilds embeddings for one identity at a time.
type Enroller struct {
	images ImageSource
	engine engine.Engine
	store  store.Store
	log    zerolog.Logger
}

func New(images ImageSource, eng engine.Engine, s store.Store, log zerolog.Logger) *Enroller {
	return &Enroller{images: images, engine: eng, store: s, log: log}
}

// Regenerate re-encodes every image of name and replaces its stored set.
// Images that fail or contain no face are skipped. progress, if set, is called after each image.
func (e *Enroller) Regenerate(ctx context.Context, name string, progress func(done, total int)) (Report, error) {
	start := time.Now()
	report := Report{Name: name}

	paths, err := e.images.Images(name)
	if err != nil {
		return report, fmt.Errorf("list images for %s: %w", name, err)
	}
	report.Images = len(paths)

	var embeddings []types.Embedding
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		emb, err := e.encode(ctx, path)
		if err != nil {
			report.Skipped++
			e.log.Warn().Err(err).Str("identity", name).Str("image", path).Msg("skipping image")
		} else {
			embeddings = append(embeddings, emb)
			report.Used++
		}
		if progress != nil {
			progress(i+1, len(paths))
		}
	}

	report.Duration = time.Since(start)
	if len(embeddings) == 0 {
		return report, fmt.Errorf("%w for %s (%d images)", ErrNoUsableImages, name, len(paths))
	}
	if err := e.store.SaveFor(ctx, name, embeddings); err != nil {
		return report, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	e.log.Info().Str("identity", name).Int("used", report.Used).Int("skipped", report.Skipped).Msg("embeddings regenerated")
	return report, nil
}

// RegenerateAll runs Regenerate for each name in order. With missingOnly, names
// that already have stored embeddings are skipped. A failing identity does not
// stop the others; the failures are joined in the returned error.
func (e *Enroller) RegenerateAll(ctx context.Context, names []string, missingOnly bool, progress func(name string, done, total int)) ([]Report, error) {
	var (
		reports []Report
		errs    []error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if missingOnly {
			st, ok, err := e.store.Stat(ctx, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: stat %s: %v", ErrPersist, name, err))
				continue
			}
			if ok && st.Count > 0 {
				e.log.Debug().Str("identity", name).Int("embeddings", st.Count).Msg("already enrolled, skipping")
				continue
			}
		}
		var step func(done, total int)
		if progress != nil {
			step = func(done, total int) { progress(name, done, total) }
		}
		report, err := e.Regenerate(ctx, name, step)
		if err != nil {
			if ctx.Err() != nil {
				return reports, err
			}
			e.log.Warn().Err(err).Str("identity", name).Msg("regeneration failed")
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

var errNoFace = errors.New("no face found")

// encode uses the first detected face, like the capture crops it was taken from.
func (e *Enroller) encode(ctx context.Context, path string) (types.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	frame := types.Frame{Data: data}
	boxes, embs, err := engine.Faces(ctx, e.engine, frame)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		return nil, errNoFace
	}
	return embs[0], nil
}
