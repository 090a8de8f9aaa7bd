package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxPushoverMessage = 1024

type PushoverConfig struct {
	UserKey  string
	APIToken string
	URL      string
}

// Pushover posts a message for every finished run, successful or not.
type Pushover struct {
	cfg     PushoverConfig
	client  *http.Client
	limiter *rate.Limiter
	enabled bool
}

func NewPushover(cfg PushoverConfig, log zerolog.Logger) *Pushover {
	enabled := cfg.UserKey != "" && cfg.APIToken != ""
	if !enabled {
		log.Warn().Msg("PUSHOVER_USER_KEY / PUSHOVER_API_TOKEN not set, push notifications disabled")
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.pushover.net/1/messages.json"
	}
	return &Pushover{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		enabled: enabled,
	}
}

func (p *Pushover) Name() string { return "pushover" }

func (p *Pushover) Send(ctx context.Context, n Notification) error {
	if !p.enabled {
		return ErrDisabled
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pushover: rate limit: %w", err)
	}

	title, priority, sound := "✅ "+n.JobName+" - Success", 0, "pushover"
	if !n.Success {
		title, priority, sound = "❌ "+n.JobName+" - Failed", 1, "siren"
	}
	msg := n.Message
	if r := []rune(msg); len(r) > maxPushoverMessage {
		msg = string(r[:maxPushoverMessage-3]) + "..."
	}

	form := url.Values{}
	form.Set("token", p.cfg.APIToken)
	form.Set("user", p.cfg.UserKey)
	form.Set("title", title)
	form.Set("message", msg)
	form.Set("priority", strconv.Itoa(priority))
	form.Set("sound", sound)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
