package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/enroll"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/triage"
)

type stubTrigger struct {
	err   error
	names []string
}

func (s *stubTrigger) Start(_ context.Context, name string) <-chan error {
	s.names = append(s.names, name)
	done := make(chan error, 1)
	done <- s.err
	close(done)
	return done
}

type stubReloader struct{ calls int }

func (s *stubReloader) Reload(context.Context) (*store.Snapshot, error) {
	s.calls++
	return &store.Snapshot{}, nil
}

func newTestServer(t *testing.T, trig *stubTrigger) (*httptest.Server, *triage.State, *stubReloader) {
	t.Helper()
	state := triage.NewState(triage.Options{Tolerance: 0.4, Enabled: true})
	cache := &stubReloader{}
	s := &Server{State: state, Trigger: trig, Cache: cache, Log: zerolog.Nop()}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, state, cache
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubTrigger{})
	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", res.StatusCode)
	}
}

func TestDetectionToggle(t *testing.T) {
	srv, state, _ := newTestServer(t, &stubTrigger{})
	c := NewClient(srv.URL)
	ctx := context.Background()

	sum, err := c.SetDetection(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Enabled || state.Enabled() {
		t.Error("Expected detection disabled")
	}

	sum, err = c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Enabled {
		t.Error("Status should report disabled")
	}

	if _, err := c.SetDetection(ctx, true); err != nil || !state.Enabled() {
		t.Errorf("Expected detection re-enabled, err=%v", err)
	}
}

func TestDetectionRejectsBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubTrigger{})
	for _, body := range []string{`{}`, `not json`, `{"enabled":"yes"}`} {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/detection", strings.NewReader(body))
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, res.StatusCode)
		}
	}
}

func TestRegenerate(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		status string
		reload int
	}{
		{"ok", nil, http.StatusOK, "ok", 1},
		{"no usable images", fmt.Errorf("%w for Ana", enroll.ErrNoUsableImages), http.StatusUnprocessableEntity, "no_usable_images", 0},
		{"persist", enroll.ErrPersist, http.StatusInternalServerError, "persist_failed", 0},
		{"other", errors.New("boom"), http.StatusInternalServerError, "error", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := &stubTrigger{err: tt.err}
			srv, _, cache := newTestServer(t, trig)

			res, err := http.Post(srv.URL+"/identities/Ana/regenerate", "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			defer res.Body.Close()
			var body RegenerateResponse
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}

			if res.StatusCode != tt.code || body.Status != tt.status {
				t.Errorf("Expected %d/%s, got %d/%s", tt.code, tt.status, res.StatusCode, body.Status)
			}
			if len(trig.names) != 1 || trig.names[0] != "Ana" {
				t.Errorf("Trigger called with %v", trig.names)
			}
			if cache.calls != tt.reload {
				t.Errorf("Expected %d reloads, got %d", tt.reload, cache.calls)
			}
		})
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubTrigger{})
	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(data), "sentinel_detection_enabled") {
		t.Error("Expected sentinel collectors in /metrics output")
	}
}

func TestClientReportsDaemonDown(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("Expected an error when nothing listens")
	}
}
