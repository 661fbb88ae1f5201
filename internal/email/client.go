// Package email delivers transactional mail over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sender is the mail surface the rest of the system depends on.
type Sender interface {
	SendPasswordReset(to, username, token, serverURL string) error
	SendBanNotice(to, username string) error
}

// Client sends emails over SMTP. Each call to Send or Ping creates and closes
// its own connection, so the Client is safe for concurrent use without
// additional locking.
type Client struct {
	host     string
	port     int
	username string
	password string
	from     mail.Address
}

// NewClient creates a new SMTP client. The from address is parsed as an RFC
// 5322 address; callers should validate it before calling NewClient (config
// validation handles this at startup).
func NewClient(host string, port int, username, password, from string) *Client {
	addr, _ := mail.ParseAddress(from)
	if addr == nil {
		addr = &mail.Address{Address: from}
	}
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     *addr,
	}
}

// Ping verifies that the SMTP server is reachable and accepts authentication
// (if credentials are configured). It is intended for startup health checks
// and logs a warning on failure rather than preventing startup.
func (c *Client) Ping() error {
	client, err := c.dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Quit() }()

	if c.username != "" {
		auth := smtp.PlainAuth("", c.username, c.password, c.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	return nil
}

// Send delivers a plain text email with the given subject and body to the
// specified recipient.
func (c *Client) Send(to, subject, body string) error {
	return c.send(to, subject, body, "text/plain")
}

// SendPasswordReset composes and sends a password reset message containing a
// link the recipient must visit to choose a new password.
func (c *Client) SendPasswordReset(to, username, token, serverURL string) error {
	body, err := renderPasswordReset(username, serverURL, token)
	if err != nil {
		return err
	}
	return c.send(to, "Reset your NetsBlox password", body, "text/html")
}

// SendBanNotice tells an account holder their account was banned.
func (c *Client) SendBanNotice(to, username string) error {
	body := fmt.Sprintf("Hi %s,\r\n\r\nYour NetsBlox account has been banned. "+
		"If you believe this is a mistake, reply to this email.\r\n", username)
	return c.send(to, "Your NetsBlox account has been banned", body, "text/plain")
}

func (c *Client) send(to, subject, body, contentType string) error {
	client, err := c.dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Quit() }()

	if c.username != "" {
		auth := smtp.PlainAuth("", c.username, c.password, c.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(c.from.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}

	msg := buildMessage(c.from.String(), to, subject, body, contentType)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return nil
}

// dial opens a TCP connection to the SMTP server, performs the EHLO
// handshake, and upgrades to TLS if the server advertises STARTTLS support.
func (c *Client) dial() (*smtp.Client, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(context.Background(), "tcp", c.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr(), err)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if err := client.Hello("localhost"); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.host}); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}

	return client, nil
}

func (c *Client) addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

func buildMessage(from, to, subject, body, contentType string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

// LogSender is the Sender used when SMTP is not configured. It logs the
// reset link instead of delivering it, which is what development wants.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a Sender that logs instead of sending.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{log: logger.With().Str("component", "email").Logger()}
}

func (s *LogSender) SendPasswordReset(to, username, token, serverURL string) error {
	s.log.Info().
		Str("to", to).
		Str("username", username).
		Str("url", resetURL(serverURL, username, token)).
		Msg("password reset requested; smtp not configured")
	return nil
}

func (s *LogSender) SendBanNotice(to, username string) error {
	s.log.Info().
		Str("to", to).
		Str("username", username).
		Msg("ban notice suppressed; smtp not configured")
	return nil
}
