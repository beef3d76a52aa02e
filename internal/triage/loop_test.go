package triage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

type recordingNotifier struct {
	mu         sync.Mutex
	known      []string
	dispatched []string
}

func (r *recordingNotifier) NotifyKnown(_ context.Context, name string, _ types.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known = append(r.known, name)
}

func (r *recordingNotifier) Dispatch(_ context.Context, c *Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, c.ID)
}

type loopFixture struct {
	loop     *Loop
	state    *State
	camera   *scriptedCamera
	gallery  *memGallery
	notifier *recordingNotifier
	cache    *countingReloader
	clock    time.Time
}

func newLoopFixture(frames []string, faces map[string][]types.Embedding, known []store.Entry) *loopFixture {
	f := &loopFixture{
		state:    newTestState(Options{Cooldown: 5 * time.Minute}),
		camera:   &scriptedCamera{frames: frames},
		gallery:  newMemGallery(),
		notifier: &recordingNotifier{},
		cache:    &countingReloader{snap: &store.Snapshot{Entries: known}},
		clock:    t0,
	}
	eng := tableEngine{faces: faces}
	f.loop = &Loop{
		State:  f.state,
		Cache:  f.cache,
		Camera: f.camera,
		Engine: eng,
		Session: &Session{
			Camera:    f.camera,
			Engine:    eng,
			Store:     f.gallery,
			Attempts:  5,
			Tolerance: 0.4,
			Log:       zerolog.Nop(),
			Crop:      passCrop,
			Sleep:     noSleep,
		},
		Notifier:  f.notifier,
		Tolerance: 0.4,
		MinImages: 3,
		Interval:  time.Millisecond,
		Reload:    10 * time.Second,
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return f.clock },
	}
	return f
}

func TestTickKnownSubjectThrottled(t *testing.T) {
	faces := map[string][]types.Embedding{"ana": {{0.05, 0}}}
	f := newLoopFixture([]string{"ana"}, faces, []store.Entry{{Name: "Ana", Embedding: types.Embedding{0, 0}}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.loop.Tick(ctx); err != nil {
			t.Fatal(err)
		}
		f.clock = f.clock.Add(time.Minute)
	}
	if len(f.notifier.known) != 1 {
		t.Fatalf("Expected 1 notice within the cooldown, got %v", f.notifier.known)
	}

	f.clock = f.clock.Add(5 * time.Minute)
	f.loop.Tick(ctx)
	if len(f.notifier.known) != 2 {
		t.Errorf("Expected a second notice after the cooldown, got %v", f.notifier.known)
	}
}

func TestTickCooldownUsesTimeAfterCapture(t *testing.T) {
	faces := map[string][]types.Embedding{
		"mixed":    {{5, 5}, {0.05, 0}},
		"stranger": {{5, 5}},
		"ana":      {{0.05, 0}},
	}
	frames := []string{"mixed", "stranger", "stranger", "stranger", "stranger", "stranger", "ana"}
	f := newLoopFixture(frames, faces, []store.Entry{{Name: "Ana", Embedding: types.Embedding{0, 0}}})
	// Four waits between five attempts: the session takes 40s.
	f.loop.Session.Sleep = func(context.Context, time.Duration) error {
		f.clock = f.clock.Add(10 * time.Second)
		return nil
	}
	ctx := context.Background()

	if err := f.loop.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.dispatched) != 1 || len(f.notifier.known) != 1 {
		t.Fatalf("Expected one dispatch and one known notice, got %v %v", f.notifier.dispatched, f.notifier.known)
	}
	noticeAt := t0.Add(40 * time.Second)
	if !f.clock.Equal(noticeAt) {
		t.Fatalf("Expected clock at %v after capture, got %v", noticeAt, f.clock)
	}

	f.clock = noticeAt.Add(4*time.Minute + 30*time.Second)
	f.loop.Tick(ctx)
	if len(f.notifier.known) != 1 {
		t.Fatalf("Notice 4m30s after the previous one must be suppressed, got %v", f.notifier.known)
	}

	f.clock = noticeAt.Add(5*time.Minute + time.Second)
	f.loop.Tick(ctx)
	if len(f.notifier.known) != 2 {
		t.Errorf("Expected a second notice once the cooldown elapsed, got %v", f.notifier.known)
	}
}

func TestTickUnknownCapturesAndDispatches(t *testing.T) {
	target := types.Embedding{5, 5}
	faces := map[string][]types.Embedding{
		"stranger": {target},
		"near":     {{5.1, 5}},
		"other":    {{9, 9}},
	}
	// First frame triggers, then 5 attempts: hit, miss, fail, hit, hit.
	f := newLoopFixture([]string{"stranger", "near", "other", "", "stranger", "near"}, faces, nil)

	if err := f.loop.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	sum := f.state.Summary()
	if sum.UnderReview != "unknown_20240101_1" {
		t.Fatalf("Expected candidate under review, got %+v", sum)
	}
	if len(f.notifier.dispatched) != 1 {
		t.Errorf("Expected exactly one dispatch, got %v", f.notifier.dispatched)
	}
	if got := len(f.gallery.holding["unknown_20240101_1"]); got != 3 {
		t.Errorf("Expected 3 stored crops, got %d", got)
	}

	// The same subject seen again while under review is a duplicate.
	f.camera.frames = []string{"near"}
	f.camera.calls = 0
	f.loop.Tick(context.Background())
	if s := f.state.Summary(); len(s.Queued) != 0 || s.TodayCount != 1 {
		t.Errorf("Duplicate sighting created a candidate: %+v", s)
	}
}

func TestTickTooFewImagesLeavesNoResidue(t *testing.T) {
	faces := map[string][]types.Embedding{
		"stranger": {{5, 5}},
		"empty":    {},
	}
	// Trigger frame, then only two hits in five attempts.
	f := newLoopFixture([]string{"stranger", "stranger", "empty", "", "stranger", "empty"}, faces, nil)

	f.loop.Tick(context.Background())

	sum := f.state.Summary()
	if sum.UnderReview != "" || len(sum.Queued) != 0 {
		t.Errorf("Candidate with too few images must not be queued: %+v", sum)
	}
	if sum.LiveBuffer != 0 {
		t.Errorf("Expected empty live buffer, got %d", sum.LiveBuffer)
	}
	if f.gallery.has("unknown_20240101_1") {
		t.Error("Expected holding images to be discarded")
	}
	if len(f.notifier.dispatched) != 0 {
		t.Error("Nothing should be dispatched")
	}
}

func TestTickSkipsWhenDisabled(t *testing.T) {
	f := newLoopFixture([]string{"stranger"}, map[string][]types.Embedding{"stranger": {{5, 5}}}, nil)
	f.state.SetEnabled(false)
	f.loop.Tick(context.Background())
	if f.camera.calls != 0 {
		t.Errorf("Camera should not be used while disabled, got %d calls", f.camera.calls)
	}
}

func TestTickReloadsPeriodically(t *testing.T) {
	f := newLoopFixture([]string{""}, nil, nil)
	ctx := context.Background()

	f.loop.Tick(ctx) // first tick always reloads
	f.clock = f.clock.Add(5 * time.Second)
	f.loop.Tick(ctx)
	f.clock = f.clock.Add(5 * time.Second)
	f.loop.Tick(ctx)

	if f.cache.count != 2 {
		t.Errorf("Expected 2 reloads over 10s, got %d", f.cache.count)
	}
}

func TestTickTransientFailuresAreSilent(t *testing.T) {
	f := newLoopFixture([]string{"", "garbage"}, map[string][]types.Embedding{}, nil)
	ctx := context.Background()
	if err := f.loop.Tick(ctx); err != nil {
		t.Errorf("No frame should not be an error: %v", err)
	}
	if err := f.loop.Tick(ctx); err != nil {
		t.Errorf("Undecodable frame should not be an error: %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	f := newLoopFixture([]string{""}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.loop.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestSessionCancelMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cam := &scriptedCamera{frames: []string{"x"}}
	s := &Session{
		Camera:    cam,
		Engine:    tableEngine{faces: map[string][]types.Embedding{"x": {{0}}}},
		Store:     newMemGallery(),
		Attempts:  20,
		Tolerance: 0.4,
		Log:       zerolog.Nop(),
		Crop:      passCrop,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	c := &Candidate{ID: "unknown_20240101_1", Target: types.Embedding{0}}
	n, err := s.Run(ctx, c)
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if n != 1 || cam.calls != 1 {
		t.Errorf("Expected to stop after the first attempt, got n=%d calls=%d", n, cam.calls)
	}
}
