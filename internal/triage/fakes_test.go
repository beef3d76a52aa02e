package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

type sentPhoto struct {
	image   []byte
	caption string
}

type fakeChannel struct {
	mu     sync.Mutex
	photos []sentPhoto
	texts  []string
	err    error
}

func (f *fakeChannel) SendPhotoWithCaption(_ context.Context, image []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentPhoto{image: image, caption: caption})
	return f.err
}

func (f *fakeChannel) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeChannel) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

// captionsFor counts review notices that mention id.
func (f *fakeChannel) captionsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.photos {
		if strings.Contains(p.caption, "("+id+")") {
			n++
		}
	}
	return n
}

// memGallery is an in-memory CaptureStore and Promoter.
type memGallery struct {
	mu         sync.Mutex
	holding    map[string][]string
	identities map[string][]string
	relabelErr error
	discarded  []string
}

func newMemGallery() *memGallery {
	return &memGallery{holding: map[string][]string{}, identities: map[string][]string{}}
}

func (g *memGallery) SaveCapture(id string, attempt int, _ []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := fmt.Sprintf("%s/%s_%d.jpg", id, id, attempt)
	g.holding[id] = append(g.holding[id], path)
	return path, nil
}

func (g *memGallery) Discard(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holding, id)
	g.discarded = append(g.discarded, id)
	return nil
}

func (g *memGallery) Relabel(id, name string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.relabelErr != nil {
		return nil, g.relabelErr
	}
	moved := g.holding[id]
	g.identities[name] = append(g.identities[name], moved...)
	delete(g.holding, id)
	return moved, nil
}

func (g *memGallery) has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.holding[id]
	return ok
}

// fakeStats is a StatSource whose entries are set by fakeTrigger.
type fakeStats struct {
	mu    sync.Mutex
	stats map[string]store.Stat
}

func (f *fakeStats) Stat(_ context.Context, name string) (store.Stat, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[name]
	return st, ok, nil
}

func (f *fakeStats) set(name string, count int, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats == nil {
		f.stats = map[string]store.Stat{}
	}
	f.stats[name] = store.Stat{Name: name, Count: count, UpdatedAt: at}
}

// fakeTrigger completes immediately with err; on success it records a stat.
type fakeTrigger struct {
	stats   *fakeStats
	err     error
	block   bool
	started []string
}

func (f *fakeTrigger) Start(_ context.Context, name string) <-chan error {
	f.started = append(f.started, name)
	done := make(chan error, 1)
	if f.block {
		return done
	}
	if f.err == nil && f.stats != nil {
		f.stats.set(name, 3, time.Now())
	}
	done <- f.err
	close(done)
	return done
}

type countingReloader struct {
	mu    sync.Mutex
	count int
	snap  *store.Snapshot
	err   error
}

func (c *countingReloader) Reload(context.Context) (*store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	if c.snap == nil {
		c.snap = &store.Snapshot{}
	}
	return c.snap, c.err
}

func (c *countingReloader) Snapshot() *store.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		c.snap = &store.Snapshot{}
	}
	return c.snap
}

// scriptedCamera returns frames in order; "" means a failed capture. It repeats the last entry.
type scriptedCamera struct {
	mu     sync.Mutex
	frames []string
	calls  int
}

func (c *scriptedCamera) CaptureFrame(context.Context) (types.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.frames) {
		i = len(c.frames) - 1
	}
	c.calls++
	if i < 0 || c.frames[i] == "" {
		return types.Frame{}, false
	}
	return types.Frame{Data: []byte(c.frames[i])}, true
}

// tableEngine maps frame contents to the embeddings of the faces in it.
type tableEngine struct {
	faces map[string][]types.Embedding
}

func (e tableEngine) DetectFaces(_ context.Context, f types.Frame) ([]types.BoundingBox, error) {
	embs, ok := e.faces[string(f.Data)]
	if !ok {
		return nil, errors.New("undecodable frame")
	}
	boxes := make([]types.BoundingBox, len(embs))
	for i := range boxes {
		boxes[i] = types.BoundingBox{Left: i, Top: 0, Right: i + 1, Bottom: 1}
	}
	return boxes, nil
}

func (e tableEngine) ExtractEmbeddings(_ context.Context, f types.Frame, _ []types.BoundingBox) ([]types.Embedding, error) {
	return e.faces[string(f.Data)], nil
}

func (e tableEngine) Distance(a, b types.Embedding) float64 { return engine.Euclidean(a, b) }

func noSleep(context.Context, time.Duration) error { return nil }

func passCrop(frame []byte, _ types.BoundingBox) ([]byte, error) { return frame, nil }
