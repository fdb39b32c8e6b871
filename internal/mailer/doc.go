// Package mailer delivers one-time codes. SMTPMailer sends real mail;
// LogMailer writes the message to a zap logger for local development.
package mailer
