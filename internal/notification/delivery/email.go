// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/notification"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	From        string        `koanf:"from"`
	FromName    string        `koanf:"from_name"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	UseTLS      bool          `koanf:"use_tls"`
	DialTimeout time.Duration `koanf:"dial_timeout"`

	// Addresses maps recipient ids to email addresses.
	Addresses map[string]string `koanf:"addresses"`
}

// Validate checks that the SMTP settings are usable.
func (c EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid SMTP port: %d", c.Port)
	}
	if err := ValidateEmail(c.From); err != nil {
		return fmt.Errorf("invalid SMTP from address: %w", err)
	}
	return nil
}

// AddressBook resolves a recipient id to an email address.
type AddressBook interface {
	EmailFor(ctx context.Context, recipientID string) (string, bool)
}

// StaticAddresses is a fixed recipient to address map. Recipient ids that
// are themselves email addresses resolve to themselves.
type StaticAddresses map[string]string

// EmailFor implements AddressBook.
func (s StaticAddresses) EmailFor(_ context.Context, recipientID string) (string, bool) {
	if addr, ok := s[recipientID]; ok {
		return addr, true
	}
	if ValidateEmail(recipientID) == nil {
		return recipientID, true
	}
	return "", false
}

// EmailAdapter delivers notifications over SMTP.
type EmailAdapter struct {
	cfg       EmailConfig
	addresses AddressBook
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEmailAdapter creates an SMTP adapter.
func NewEmailAdapter(cfg EmailConfig, addresses AddressBook) (*EmailAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.FromName == "" {
		cfg.FromName = "Beacon"
	}
	if addresses == nil {
		addresses = StaticAddresses(cfg.Addresses)
	}
	return &EmailAdapter{
		cfg:       cfg,
		addresses: addresses,
		logger:    logging.WithComponent("delivery-email"),
		now:       time.Now,
	}, nil
}

// Channel implements notification.Adapter.
func (a *EmailAdapter) Channel() notification.Channel {
	return notification.ChannelEmail
}

// Deliver implements notification.Adapter.
func (a *EmailAdapter) Deliver(ctx context.Context, n *notification.Notification) notification.DeliveryResult {
	to, ok := a.addresses.EmailFor(ctx, n.RecipientID)
	if !ok {
		return failed(false, "no email address for recipient %s", n.RecipientID)
	}

	if err := a.send(ctx, to, a.buildMessage(to, n)); err != nil {
		transient := isTransientSMTPError(err)
		a.logger.Warn().Err(err).Str("id", n.ID).Str("to", logging.MaskEmail(to)).Bool("transient", transient).Msg("email delivery failed")
		return failed(transient, "%v", err)
	}
	return notification.DeliveryResult{Delivered: true}
}

// buildMessage renders a plain-text message with headers.
func (a *EmailAdapter) buildMessage(to string, n *notification.Notification) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", headerSafe(a.cfg.FromName), a.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerSafe(n.Title))
	fmt.Fprintf(&msg, "Date: %s\r\n", a.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "X-Beacon-Notification-ID: %s\r\n", n.ID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(n.Body)
	msg.WriteString("\r\n")
	return msg.String()
}

// headerSafe strips line breaks so values cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func (a *EmailAdapter) send(ctx context.Context, to, msg string) error {
	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))

	dialer := &net.Dialer{Timeout: a.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// SMTP has no context support; bound the whole exchange by the deadline
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, a.cfg.Host)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if a.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: a.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}
	if a.cfg.Username != "" && a.cfg.Password != "" {
		auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}
	if err := client.Mail(a.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start message: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	// The message is accepted once Data closes
	_ = client.Quit()
	return nil
}

// isTransientSMTPError classifies by SMTP reply code: 4xx replies and
// network failures are transient, 5xx replies are permanent.
func isTransientSMTPError(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 400 && tpErr.Code < 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
