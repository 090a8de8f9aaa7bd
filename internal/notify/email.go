package notify

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type EmailConfig struct {
	Server   string
	Port     int
	User     string
	Password string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email mails the output of successful runs to each job recipient.
type Email struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	enabled  bool
}

func NewEmail(cfg EmailConfig, log zerolog.Logger) *Email {
	enabled := cfg.User != "" && cfg.Password != ""
	if !enabled {
		log.Warn().Msg("EMAIL_USER / EMAIL_PASSWORD not set, email notifications disabled")
	}
	return &Email{cfg: cfg, sendMail: smtp.SendMail, enabled: enabled}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, n Notification) error {
	if !e.enabled {
		return ErrDisabled
	}
	if !n.Success || len(n.Recipients) == 0 {
		return nil
	}

	addr := net.JoinHostPort(e.cfg.Server, strconv.Itoa(e.cfg.Port))
	auth := smtp.PlainAuth("", e.cfg.User, e.cfg.Password, e.cfg.Server)

	var errs []error
	for _, to := range n.Recipients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg := buildMessage(e.cfg.User, to, n)
		if err := e.sendMail(addr, auth, e.cfg.User, []string{to}, msg); err != nil {
			errs = append(errs, fmt.Errorf("email to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// Subject is "<slug> - YYYY-MM-DD" in the notification's local date.
func Subject(n Notification) string {
	name := n.Slug
	if name == "" {
		name = n.JobName
	}
	return name + " - " + n.At.Format("2006-01-02")
}

func buildMessage(from, to string, n Notification) []byte {
	contentType, body := "text/plain", n.Body
	if n.HTML != "" {
		contentType, body = "text/html", n.HTML
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", Subject(n)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: " + contentType + "; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}
