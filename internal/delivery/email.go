// Reportus - Multi-Tenant Report Scheduling and Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reportus

// Package delivery sends finished reports to their recipients. Email is
// the only channel today; the Sender interface keeps the pipeline
// channel-agnostic.
package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/tomtom215/reportus/internal/config"
)

// Machine-readable delivery error codes.
const (
	ErrorCodeInvalidRecipient = "INVALID_RECIPIENT"
	ErrorCodeConnectionFailed = "CONNECTION_FAILED"
	ErrorCodeAuthFailed       = "AUTH_FAILED"
	ErrorCodeRateLimited      = "RATE_LIMITED"
	ErrorCodeRecipientRefused = "RECIPIENT_REFUSED"
	ErrorCodeTimeout          = "TIMEOUT"
	ErrorCodeUnknown          = "UNKNOWN"
)

// Message is one outbound report notification.
type Message struct {
	To       string
	CC       []string
	BCC      []string
	Subject  string
	BodyHTML string
}

// Result captures the outcome of one delivery attempt. A failed attempt
// is reported in the result, not as an error: errors are reserved for
// programming mistakes, not remote failures.
type Result struct {
	Success      bool
	DeliveredAt  *time.Time
	ErrorCode    string
	ErrorMessage string
	IsTransient  bool
}

// Sender delivers messages. EmailSender is the SMTP implementation.
type Sender interface {
	Send(ctx context.Context, msg Message) *Result
}

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	cfg         config.SMTPConfig
	dialTimeout time.Duration
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg, dialTimeout: 30 * time.Second}
}

// Send delivers one message to its recipient plus CC and BCC.
func (s *EmailSender) Send(ctx context.Context, msg Message) *Result {
	result := &Result{}

	if err := ValidateEmail(msg.To); err != nil {
		result.ErrorCode = ErrorCodeInvalidRecipient
		result.ErrorMessage = err.Error()
		return result
	}

	if err := s.sendSMTP(ctx, msg); err != nil {
		result.ErrorMessage = err.Error()
		result.ErrorCode = classifyError(err)
		result.IsTransient = isTransient(result.ErrorCode)
		return result
	}

	now := time.Now().UTC()
	result.Success = true
	result.DeliveredAt = &now
	return result
}

// buildMessage constructs the RFC 5322 message. BCC recipients appear in
// the envelope only, never in headers.
func (s *EmailSender) buildMessage(msg Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: Reportus <%s>\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.BodyHTML)
	b.WriteString("\r\n")

	return b.String()
}

func (s *EmailSender) sendSMTP(ctx context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	dialer := &net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: s.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	envelope := append([]string{msg.To}, msg.CC...)
	envelope = append(envelope, msg.BCC...)
	for _, rcpt := range envelope {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(s.buildMessage(msg))); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// Message is accepted at this point; a failed QUIT is harmless.
	_ = client.Quit()
	return nil
}

// ValidateEmail performs a light syntactic check on an address.
func ValidateEmail(addr string) error {
	at := strings.Index(addr, "@")
	if at < 1 || at == len(addr)-1 {
		return fmt.Errorf("invalid email address: %q", addr)
	}
	if strings.ContainsAny(addr, " \r\n") {
		return fmt.Errorf("invalid email address: %q", addr)
	}
	domain := addr[at+1:]
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("invalid email domain: %q", domain)
	}
	return nil
}

// classifyError maps an SMTP failure to an error code.
func classifyError(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "authentication") || strings.Contains(errStr, "auth"):
		return ErrorCodeAuthFailed
	case strings.Contains(errStr, "connect"):
		return ErrorCodeConnectionFailed
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ErrorCodeTimeout
	case strings.Contains(errStr, "recipient") || strings.Contains(errStr, "mailbox"):
		return ErrorCodeRecipientRefused
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "limit"):
		return ErrorCodeRateLimited
	default:
		return ErrorCodeUnknown
	}
}

// isTransient reports whether a retry could plausibly succeed.
func isTransient(code string) bool {
	switch code {
	case ErrorCodeConnectionFailed, ErrorCodeTimeout, ErrorCodeRateLimited:
		return true
	default:
		return false
	}
}
