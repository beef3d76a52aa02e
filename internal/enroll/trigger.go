package enroll

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/sentinel-watch/internal/utils"
)

// Trigger starts a regeneration and reports its outcome on the returned channel.
// The channel receives exactly one value (nil on success) and is then closed.
type Trigger interface {
	Start(ctx context.Context, name string) <-chan error
}

// InProcess runs the Enroller on a goroutine.
type InProcess struct {
	Enroller *Enroller
}

func (t InProcess) Start(ctx context.Context, name string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := t.Enroller.Regenerate(ctx, name, nil)
		done <- err
	}()
	return done
}

// Subprocess runs `<Binary> [Args...] regenerate <name>` and maps its exit code.
type Subprocess struct {
	Binary string
	Args   []string
	Log    zerolog.Logger
}

func (t Subprocess) Start(ctx context.Context, name string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		args := append(append([]string{}, t.Args...), "regenerate", name)
		cmd := utils.NewSafeCommandContext(ctx, t.Binary, args...)
		err := cmd.Run()
		if err == nil {
			done <- nil
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case ExitNoUsableImages:
				done <- fmt.Errorf("%w for %s", ErrNoUsableImages, name)
				return
			case ExitPersist:
				done <- ErrPersist
				return
			}
		}
		t.Log.Warn().Err(err).Str("identity", name).Str("stderr", cmd.Logs()).Msg("regenerate subprocess failed")
		done <- fmt.Errorf("regenerate %s: %w", name, err)
	}()
	return done
}
