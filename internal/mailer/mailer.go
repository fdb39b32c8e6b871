package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/tenantauth"
)

var (
	_ tenantauth.Mailer = (*SMTPMailer)(nil)
	_ tenantauth.Mailer = (*LogMailer)(nil)
)

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// From defaults to User.
	From    string
	AppName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends plain-text code mails with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send sendFunc
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.AppName == "" {
		cfg.AppName = "tenantauth"
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}, nil
}

func (m *SMTPMailer) SendCode(ctx context.Context, msg tenantauth.CodeMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("invalid recipient %q", msg.To)
	}
	subject, body := render(m.cfg.AppName, msg)
	headers := []string{
		"From: " + m.cfg.From,
		"To: " + msg.To,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		body,
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, []byte(strings.Join(headers, "\r\n"))); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func render(app string, msg tenantauth.CodeMessage) (subject, body string) {
	minutes := int(msg.ExpiresIn / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	switch msg.Purpose {
	case tenantauth.PurposePasswordReset:
		subject = app + " - Your password reset code"
		body = fmt.Sprintf("Hello,\r\n\r\nUse this code to reset your %s password:\r\n\r\n%s\r\n\r\n"+
			"It expires in %d minutes. If you did not ask for a reset, you can ignore this mail.\r\n",
			app, msg.Code, minutes)
	default:
		subject = app + " - Your login code"
		body = fmt.Sprintf("Hello,\r\n\r\nYour %s login code is:\r\n\r\n%s\r\n\r\n"+
			"It expires in %d minutes. If this was not you, change your password.\r\n",
			app, msg.Code, minutes)
	}
	return subject, body
}

// LogMailer logs codes instead of sending them. Never use it in production.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendCode(_ context.Context, msg tenantauth.CodeMessage) error {
	m.logger.Info("one-time code",
		zap.String("to", msg.To),
		zap.String("tenant_id", msg.TenantID),
		zap.String("purpose", string(msg.Purpose)),
		zap.String("code", msg.Code),
		zap.Duration("expires_in", msg.ExpiresIn),
	)
	return nil
}
