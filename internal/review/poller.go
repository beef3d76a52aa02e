package review

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Handler consumes reviewer messages.
type Handler interface {
	HandleMessage(ctx context.Context, text string)
}

// Updater is the inbound half of Client.
type Updater interface {
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
}

// Poller long-polls for reviewer replies and hands every text message from the
// review chat to Handler, one at a time and in arrival order.
type Poller struct {
	Updates Updater
	ChatID  int64
	Handler Handler
	// Backoff is the pause after a failed poll.
	Backoff time.Duration
	Log     zerolog.Logger

	offset int64
}

// Serve polls until ctx is cancelled. Poll failures are logged and retried.
func (p *Poller) Serve(ctx context.Context) error {
	p.Log.Info().Int64("chat", p.ChatID).Msg("review poller started")
	for {
		updates, err := p.Updates.GetUpdates(ctx, p.offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn().Err(err).Dur("backoff", p.Backoff).Msg("getUpdates failed")
			if err := sleep(ctx, p.Backoff); err != nil {
				return err
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.handle(ctx, u)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *Poller) handle(ctx context.Context, u Update) {
	m := u.Message
	if m == nil || m.Text == "" {
		return
	}
	if m.Chat.ID != p.ChatID {
		p.Log.Warn().Int64("chat", m.Chat.ID).Msg("ignoring message from another chat")
		return
	}
	p.Log.Debug().Int64("update", u.UpdateID).Str("text", m.Text).Msg("reviewer message")
	p.Handler.HandleMessage(ctx, m.Text)
}

// String names the service in supervisor events.
func (p *Poller) String() string { return "review-poller" }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
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
