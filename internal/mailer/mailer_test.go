package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MrEthical07/tenantauth"
)

type sent struct {
	addr string
	from string
	to   []string
	msg  string
	auth bool
}

func newTestMailer(t *testing.T, cfg SMTPConfig, fail error) (*SMTPMailer, *[]sent) {
	t.Helper()
	m, err := NewSMTPMailer(cfg)
	if err != nil {
		t.Fatalf("NewSMTPMailer failed: %v", err)
	}
	var out []sent
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if fail != nil {
			return fail
		}
		out = append(out, sent{addr: addr, from: from, to: to, msg: string(msg), auth: a != nil})
		return nil
	}
	return m, &out
}

func TestSMTPMailerLoginCode(t *testing.T) {
	m, out := newTestMailer(t, SMTPConfig{Host: "smtp.example.com", Port: 587, User: "noreply@example.com", Password: "pw", AppName: "Acme"}, nil)

	err := m.SendCode(context.Background(), tenantauth.CodeMessage{
		To:        "alice@example.com",
		TenantID:  "acme",
		Code:      "123456",
		Purpose:   tenantauth.PurposeLogin,
		ExpiresIn: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	if len(*out) != 1 {
		t.Fatalf("expected one mail, got %d", len(*out))
	}
	got := (*out)[0]
	if got.addr != "smtp.example.com:587" || got.from != "noreply@example.com" || !got.auth {
		t.Fatalf("unexpected envelope %+v", got)
	}
	for _, want := range []string{"Subject: Acme - Your login code", "To: alice@example.com", "123456", "expires in 10 minutes"} {
		if !strings.Contains(got.msg, want) {
			t.Fatalf("expected %q in message:\n%s", want, got.msg)
		}
	}
}

func TestSMTPMailerResetSubject(t *testing.T) {
	m, out := newTestMailer(t, SMTPConfig{Host: "localhost", Port: 1025}, nil)
	if err := m.SendCode(context.Background(), tenantauth.CodeMessage{To: "a@b.c", Code: "999999", Purpose: tenantauth.PurposePasswordReset}); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	got := (*out)[0]
	if !strings.Contains(got.msg, "Subject: tenantauth - Your password reset code") || got.auth {
		t.Fatalf("unexpected mail %+v", got)
	}
}

func TestSMTPMailerRejectsHeaderInjection(t *testing.T) {
	m, out := newTestMailer(t, SMTPConfig{Host: "localhost", Port: 1025}, nil)
	if err := m.SendCode(context.Background(), tenantauth.CodeMessage{To: "a@b.c\r\nBcc: x@y.z", Code: "1"}); err == nil {
		t.Fatal("expected header injection to be refused")
	}
	if len(*out) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestSMTPMailerWrapsFailures(t *testing.T) {
	boom := errors.New("connection refused")
	m, _ := newTestMailer(t, SMTPConfig{Host: "localhost", Port: 1025}, boom)
	if err := m.SendCode(context.Background(), tenantauth.CodeMessage{To: "a@b.c", Code: "1"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewSMTPMailerValidates(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{Port: 25}); err == nil {
		t.Fatal("expected missing host to fail")
	}
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewLogMailer(zap.New(core))
	if err := m.SendCode(context.Background(), tenantauth.CodeMessage{To: "a@b.c", Code: "424242", Purpose: tenantauth.PurposeLogin}); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	entries := logs.FilterMessage("one-time code").All()
	if len(entries) != 1 || entries[0].ContextMap()["code"] != "424242" {
		t.Fatalf("expected the code to be logged, got %v", entries)
	}
}
