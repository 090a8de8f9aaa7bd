// Package notify delivers best-effort run notifications. Delivery errors are
// logged and counted, never returned to the run.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/metrics"
	"github.com/rs/zerolog"
)

var ErrDisabled = errors.New("notify: channel disabled")

// Notification describes one finished run.
type Notification struct {
	Success    bool
	RunID      int64
	JobName    string
	Slug       string
	Recipients []string
	// Message is the short status text used by push channels.
	Message string
	// Body is the run output; HTML its rendered form when available.
	Body string
	HTML string
	At   time.Time
}

type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier fans a notification out to every configured channel.
type Notifier struct {
	channels []Channel
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func New(log zerolog.Logger, m *metrics.Metrics, channels ...Channel) *Notifier {
	return &Notifier{
		channels: channels,
		log:      log.With().Str("component", "notify").Logger(),
		metrics:  m,
	}
}

// Notify sends n on every channel in turn.
func (f *Notifier) Notify(ctx context.Context, n Notification) {
	for _, ch := range f.channels {
		err := ch.Send(ctx, n)
		if errors.Is(err, ErrDisabled) {
			continue
		}
		f.metrics.Notification(ch.Name(), err)
		log := f.log.With().Str("channel", ch.Name()).Int64("run_id", n.RunID).Str("job", n.JobName).Logger()
		if err != nil {
			log.Error().Err(err).Msg("notification failed")
			continue
		}
		log.Info().Bool("success", n.Success).Msg("notification sent")
	}
}
