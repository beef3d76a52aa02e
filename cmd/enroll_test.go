package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/enroll"
	"github.com/andresmejia3/sentinel-watch/internal/gallery"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// flakyCamera fails every capture whose 1-based index is listed in fail.
type flakyCamera struct {
	calls int
	fail  map[int]bool
}

func (c *flakyCamera) CaptureFrame(context.Context) (types.Frame, bool) {
	c.calls++
	if c.fail[c.calls] {
		return types.Frame{}, false
	}
	return types.Frame{Data: []byte{'F', byte(c.calls)}}, true
}

// markerEngine finds one face in images starting with 'F' and none otherwise.
type markerEngine struct{}

func (markerEngine) DetectFaces(_ context.Context, f types.Frame) ([]types.BoundingBox, error) {
	if len(f.Data) > 0 && f.Data[0] == 'F' {
		return []types.BoundingBox{{Right: 1, Bottom: 1}}, nil
	}
	return nil, nil
}

func (markerEngine) ExtractEmbeddings(_ context.Context, f types.Frame, _ []types.BoundingBox) ([]types.Embedding, error) {
	return []types.Embedding{{float64(len(f.Data))}}, nil
}

func (markerEngine) Distance(a, b types.Embedding) float64 { return engine.Euclidean(a, b) }

type memStore struct {
	saved map[string][]types.Embedding
}

func (m *memStore) LoadAll(context.Context) ([]types.Identity, error) { return nil, nil }
func (m *memStore) SaveFor(_ context.Context, name string, e []types.Embedding) error {
	m.saved[name] = e
	return nil
}
func (m *memStore) Stat(_ context.Context, name string) (store.Stat, bool, error) {
	e, ok := m.saved[name]
	return store.Stat{Name: name, Count: len(e)}, ok, nil
}
func (m *memStore) Names(context.Context) ([]store.Stat, error) { return nil, nil }
func (m *memStore) Reset(context.Context) error                 { return nil }
func (m *memStore) Close()                                      {}

func newCmdGallery(t *testing.T) *gallery.Gallery {
	t.Helper()
	root := t.TempDir()
	return gallery.New(filepath.Join(root, "temp_unknown"), filepath.Join(root, "dataset"))
}

func TestCaptureImagesSkipsFailedGrabs(t *testing.T) {
	g := newCmdGallery(t)
	cam := &flakyCamera{fail: map[int]bool{2: true}}

	var attempts []int
	saved, err := captureImages(context.Background(), cam, g, "Ana", 4, 0, func(a int) { attempts = append(attempts, a) })
	if err != nil {
		t.Fatalf("captureImages failed: %v", err)
	}
	if len(saved) != 3 || cam.calls != 4 {
		t.Fatalf("Expected 3 images from 4 grabs, got %v after %d grabs", saved, cam.calls)
	}
	if filepath.Base(saved[2]) != "Ana_3.jpg" {
		t.Errorf("Expected consecutive numbering, got %v", saved)
	}
	if data, _ := os.ReadFile(saved[1]); len(data) != 2 || data[1] != 3 {
		t.Errorf("Expected the third grab in the second slot, got %v", data)
	}
	if len(attempts) != 4 {
		t.Errorf("Expected a callback per attempt, got %v", attempts)
	}
}

func TestCaptureImagesNothingStored(t *testing.T) {
	g := newCmdGallery(t)
	cam := &flakyCamera{fail: map[int]bool{1: true, 2: true}}
	if _, err := captureImages(context.Background(), cam, g, "Ana", 2, 0, nil); !errors.Is(err, errNoFrames) {
		t.Errorf("Expected errNoFrames, got %v", err)
	}
}

func TestCaptureImagesStopsOnCancel(t *testing.T) {
	g := newCmdGallery(t)
	ctx, cancel := context.WithCancel(context.Background())
	cam := &flakyCamera{}
	_, err := captureImages(ctx, cam, g, "Ana", 5, time.Hour, func(int) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if cam.calls != 1 {
		t.Errorf("Expected one grab before stopping, got %d", cam.calls)
	}
}

func TestRegenerateIdentitiesMissingOnly(t *testing.T) {
	g := newCmdGallery(t)
	g.SaveImage("Ana", []byte("Fa"))
	g.SaveImage("Luis", []byte("Fbb"))
	g.SaveImage("Luis", []byte("Fccc"))
	g.SaveImage("Zoe", []byte("no face"))

	st := &memStore{saved: map[string][]types.Embedding{"Luis": {{1}}}}
	e := enroll.New(g, markerEngine{}, st, zerolog.Nop())

	reports, err := regenerateIdentities(context.Background(), g, e, true, false)
	if enroll.ExitCode(err) != enroll.ExitNoUsableImages {
		t.Fatalf("Expected Zoe to fail with no usable images, got %v", err)
	}
	if len(reports) != 1 || reports[0].Name != "Ana" {
		t.Errorf("Expected only Ana regenerated, got %+v", reports)
	}
	if len(st.saved["Luis"]) != 1 {
		t.Errorf("Luis already had embeddings and must be skipped, got %v", st.saved["Luis"])
	}

	reports, _ = regenerateIdentities(context.Background(), g, e, false, false)
	if len(reports) != 2 || len(st.saved["Luis"]) != 2 {
		t.Errorf("Expected Ana and Luis rebuilt, got %+v %v", reports, st.saved["Luis"])
	}
}

func TestRegenerateIdentitiesEmptyDataset(t *testing.T) {
	g := newCmdGallery(t)
	e := enroll.New(g, markerEngine{}, &memStore{saved: map[string][]types.Embedding{}}, zerolog.Nop())
	reports, err := regenerateIdentities(context.Background(), g, e, false, false)
	if err != nil || len(reports) != 0 {
		t.Errorf("Expected nothing to do, got %+v %v", reports, err)
	}
}

func TestRegenerateArgs(t *testing.T) {
	t.Cleanup(func() { regenerateAll, regenerateMissingOnly = false, false })

	if err := regenerateCmd.Args(regenerateCmd, []string{"Ana"}); err != nil {
		t.Errorf("One name should be accepted: %v", err)
	}
	regenerateMissingOnly = true
	if err := regenerateCmd.Args(regenerateCmd, []string{"Ana"}); err == nil {
		t.Error("--missing-only without --all should be rejected")
	}
	regenerateAll = true
	if err := regenerateCmd.Args(regenerateCmd, nil); err != nil {
		t.Errorf("--all takes no names: %v", err)
	}
	if err := regenerateCmd.Args(regenerateCmd, []string{"Ana"}); err == nil {
		t.Error("--all with a name should be rejected")
	}
}

func TestEnrollArgs(t *testing.T) {
	t.Cleanup(func() { enrollFromCamera = false })

	if err := enrollCmd.Args(enrollCmd, []string{"Ana"}); err == nil {
		t.Error("Enrolling from files needs at least one image")
	}
	enrollFromCamera = true
	if err := enrollCmd.Args(enrollCmd, []string{"Ana"}); err != nil {
		t.Errorf("--from-camera takes only the name: %v", err)
	}
	if err := enrollCmd.Args(enrollCmd, []string{"Ana", "x.jpg"}); err == nil {
		t.Error("--from-camera with images should be rejected")
	}
}
