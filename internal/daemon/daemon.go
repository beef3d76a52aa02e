// Package daemon wires the watch pipeline from configuration and supervises its
// long-lived services under a single-instance lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/andresmejia3/sentinel-watch/internal/admin"
	"github.com/andresmejia3/sentinel-watch/internal/camera"
	"github.com/andresmejia3/sentinel-watch/internal/config"
	"github.com/andresmejia3/sentinel-watch/internal/engine"
	"github.com/andresmejia3/sentinel-watch/internal/enroll"
	"github.com/andresmejia3/sentinel-watch/internal/gallery"
	"github.com/andresmejia3/sentinel-watch/internal/logging"
	"github.com/andresmejia3/sentinel-watch/internal/review"
	"github.com/andresmejia3/sentinel-watch/internal/store"
	"github.com/andresmejia3/sentinel-watch/internal/triage"
	"github.com/andresmejia3/sentinel-watch/internal/worker"
)

// ErrAlreadyRunning is returned when another daemon holds the lock file.
var ErrAlreadyRunning = errors.New("another sentinel watch instance is already running")

const (
	credentialCheckTimeout = 15 * time.Second
	pollBackoff            = 5 * time.Second
)

// Daemon runs the sensing loop, the review poller and the admin server.
type Daemon struct {
	cfg        *config.Config
	configPath string
	log        zerolog.Logger
}

// New captures the configuration; nothing is opened until Run.
func New(cfg *config.Config, configPath string, log zerolog.Logger) *Daemon {
	return &Daemon{cfg: cfg, configPath: configPath, log: log}
}

// Run acquires the lock, opens every dependency and serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.cfg
	lock, err := acquireLock(cfg.Paths.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			d.log.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	db, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresURL: cfg.Store.PostgresURL,
	}, logging.Component(d.log, "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	dist, err := engine.MetricByName(cfg.Engine.Metric)
	if err != nil {
		return err
	}
	eng := worker.NewEngine(worker.Options{
		Python:      cfg.Engine.Python,
		Script:      cfg.Engine.Script,
		ReadTimeout: cfg.EngineReadTimeout(),
		Distance:    dist,
	}, logging.Component(d.log, "engine"))
	defer eng.Close()

	tg := review.NewClient(review.Options{
		Token:         cfg.Telegram.Token,
		ChatID:        cfg.Telegram.ChatID,
		APIURL:        cfg.Telegram.APIURL,
		PollTimeout:   cfg.TelegramPollTimeout(),
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Burst:         cfg.Telegram.Burst,
	}, logging.Component(d.log, "telegram"))
	checkCtx, cancel := context.WithTimeout(ctx, credentialCheckTimeout)
	me, err := tg.Me(checkCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("telegram credentials rejected: %w", err)
	}
	d.log.Info().Str("bot", me.Username).Int64("chat", cfg.Telegram.ChatID).Msg("telegram bot ready")

	images := gallery.New(cfg.Paths.TempDir, cfg.Paths.DatasetDir)
	discardOrphans(images, d.log)

	cache := store.NewCache(db, logging.Component(d.log, "cache"))
	if _, err := cache.Reload(ctx); err != nil {
		return fmt.Errorf("initial embedding load: %w", err)
	}

	trigger, err := d.trigger(images, eng, db)
	if err != nil {
		return err
	}

	state := triage.NewState(triage.Options{
		Distance:  dist,
		Tolerance: cfg.Recognition.Tolerance,
		Cooldown:  cfg.NotifyCooldown(),
		MaxQueue:  cfg.Review.MaxQueue,
		Overflow:  cfg.Review.Overflow,
		Enabled:   cfg.Sensing.StartEnabled,
	})
	resolver := &triage.Resolver{
		State:   state,
		Channel: tg,
		Images:  images,
		Trigger: trigger,
		Stats:   db,
		Cache:   cache,
		Timeout: cfg.EnrollTimeout(),
		Poll:    cfg.EnrollPoll(),
		Log:     logging.Component(d.log, "review"),
	}
	cam := camera.NewFFmpeg(cfg.Camera.URL, cfg.Camera.FFmpeg, cfg.CaptureTimeout(), logging.Component(d.log, "camera"))
	loop := &triage.Loop{
		State:  state,
		Cache:  cache,
		Camera: cam,
		Engine: eng,
		Session: &triage.Session{
			Camera:    cam,
			Engine:    eng,
			Store:     images,
			Attempts:  cfg.Capture.Attempts,
			Interval:  cfg.CaptureInterval(),
			Tolerance: cfg.Recognition.Tolerance,
			Log:       logging.Component(d.log, "capture"),
		},
		Notifier:  resolver,
		Tolerance: cfg.Recognition.Tolerance,
		MinImages: cfg.Capture.MinImages,
		Interval:  cfg.TickInterval(),
		Reload:    cfg.ReloadInterval(),
		Log:       logging.Component(d.log, "loop"),
	}
	poller := &review.Poller{
		Updates: tg,
		ChatID:  tg.ChatID(),
		Handler: resolver,
		Backoff: pollBackoff,
		Log:     logging.Component(d.log, "poller"),
	}
	adminSrv := &admin.Server{
		Bind:    cfg.Admin.Bind,
		State:   state,
		Trigger: trigger,
		Cache:   cache,
		Log:     logging.Component(d.log, "admin"),
	}

	sup := suture.New("sentinel", suture.Spec{
		EventHook: eventHook(logging.Component(d.log, "supervisor")),
		Timeout:   10 * time.Second,
	})
	sup.Add(loop)
	sup.Add(poller)
	if cfg.Admin.Bind != "" {
		sup.Add(adminSrv)
	}

	if err := resolver.Channel.SendText(ctx, "🤖 Sentinel started."); err != nil {
		d.log.Warn().Err(err).Msg("startup notice failed")
	}
	d.log.Info().
		Str("camera", cfg.Camera.URL).
		Str("store", cfg.Store.Driver).
		Str("enrollment", cfg.Review.EnrollmentMode).
		Bool("enabled", cfg.Sensing.StartEnabled).
		Msg("sentinel watch started")

	err = sup.Serve(ctx)
	if ctx.Err() != nil {
		d.log.Info().Msg("sentinel watch stopped")
		return nil
	}
	return err
}

func (d *Daemon) trigger(images *gallery.Gallery, eng engine.Engine, db store.Store) (enroll.Trigger, error) {
	if d.cfg.Review.EnrollmentMode != config.EnrollSubprocess {
		return enroll.InProcess{Enroller: enroll.New(images, eng, db, logging.Component(d.log, "enroll"))}, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate sentinel binary: %w", err)
	}
	var args []string
	if d.configPath != "" {
		args = []string{"--config", d.configPath}
	}
	return enroll.Subprocess{Binary: exe, Args: args, Log: logging.Component(d.log, "enroll")}, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return lock, nil
}

// discardOrphans removes holding directories left by a previous run; the
// candidates they belonged to only existed in memory.
func discardOrphans(images *gallery.Gallery, log zerolog.Logger) {
	ids, err := images.Pending()
	if err != nil {
		log.Warn().Err(err).Msg("could not list leftover candidates")
		return
	}
	for _, id := range ids {
		if err := images.Discard(id); err != nil {
			log.Warn().Err(err).Str("candidate", id).Msg("could not remove leftover candidate")
			continue
		}
		log.Info().Str("candidate", id).Msg("removed leftover candidate from a previous run")
	}
}

func eventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			log.Warn().Fields(e.Map()).Msg(e.String())
		default:
			log.Info().Fields(e.Map()).Msg(e.String())
		}
	}
}
