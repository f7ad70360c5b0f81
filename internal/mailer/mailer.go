// Package mailer sends transactional mail over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrDisabled is returned when no SMTP host is configured.
var ErrDisabled = errors.New("mailer: disabled")

// Message is one plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Enabled() bool
}

// Options configures an SMTP sender.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// New returns an SMTP sender, or a sender that only logs when Host is empty.
func New(opts Options) Sender {
	if strings.TrimSpace(opts.Host) == "" {
		return disabledSender{}
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	return &smtpSender{opts: opts, send: smtp.SendMail}
}

type smtpSender struct {
	opts Options
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *smtpSender) Enabled() bool { return true }

func (s *smtpSender) Send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("mailer: invalid header value")
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	var auth smtp.Auth
	if s.opts.Username != "" {
		auth = smtp.PlainAuth("", s.opts.Username, s.opts.Password, s.opts.Host)
	}
	data := buildMessage(s.opts.From, msg, time.Now().UTC())

	done := make(chan error, 1)
	go func() { done <- s.send(addr, auth, s.opts.From, []string{msg.To}, data) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mailer: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mailer: send: %w", ctx.Err())
	}
}

func buildMessage(from string, msg Message, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

type disabledSender struct{}

func (disabledSender) Enabled() bool { return false }

func (disabledSender) Send(_ context.Context, msg Message) error {
	log.WithField("to", msg.To).Warnf("mailer: smtp not configured, dropping %q", msg.Subject)
	return ErrDisabled
}
