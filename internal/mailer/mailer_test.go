package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestNewWithoutHostIsDisabled(t *testing.T) {
	s := New(Options{})
	if s.Enabled() {
		t.Fatalf("expected disabled sender")
	}
	if err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s := New(Options{Host: "mail.example.com", Username: "bot@example.com", Password: "pw"}).(*smtpSender)
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := s.Send(context.Background(), Message{To: "user@example.com", Subject: "Reset", Body: "line1\nline2"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || gotFrom != "bot@example.com" || len(gotTo) != 1 || gotTo[0] != "user@example.com" {
		t.Fatalf("unexpected envelope %s %s %v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Reset\r\n") || !strings.HasSuffix(msg, "\r\n\r\nline1\r\nline2") {
		t.Fatalf("unexpected message %q", msg)
	}

	if err := s.Send(context.Background(), Message{To: "x@example.com\r\nBcc: evil@example.com", Subject: "x"}); err == nil {
		t.Fatalf("expected header injection to be refused")
	}
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	s := New(Options{Host: "mail.example.com"}).(*smtpSender)
	block := make(chan struct{})
	defer close(block)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Send(ctx, Message{To: "a@example.com", Subject: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
