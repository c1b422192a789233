package challenge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
)

// MailNotifier e-mails challenge announcements to the operator over SMTP
type MailNotifier struct {
	config common.SMTPConfig
	logger arbor.ILogger
}

// NewMailNotifier validates config and creates the notifier
func NewMailNotifier(config common.SMTPConfig, logger arbor.ILogger) (*MailNotifier, error) {
	switch {
	case config.Host == "":
		return nil, fmt.Errorf("SMTP host not configured")
	case config.Username == "" || config.Password == "":
		return nil, fmt.Errorf("SMTP credentials not configured")
	case config.To == "":
		return nil, fmt.Errorf("SMTP recipient not configured")
	}
	if config.From == "" {
		config.From = config.Username
	}
	if config.Port == 0 {
		config.Port = 587
	}
	return &MailNotifier{config: config, logger: logger}, nil
}

// Notify sends message as a plain text e-mail
func (n *MailNotifier) Notify(ctx context.Context, message string) error {
	msg := buildMessage(n.config.From, n.config.To, "Outreach: action required", message, time.Now())
	addr := net.JoinHostPort(n.config.Host, fmt.Sprint(n.config.Port))
	auth := smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)

	var err error
	if n.config.UseTLS {
		err = n.sendWithTLS(addr, auth, msg)
	} else {
		err = smtp.SendMail(addr, auth, n.config.From, []string{n.config.To}, []byte(msg))
	}
	if err != nil {
		return err
	}
	n.logger.Debug().Str("to", n.config.To).Msg("Challenge notification e-mailed")
	return nil
}

func buildMessage(from, to, subject, body string, now time.Time) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	msg.WriteString("\r\n")
	return msg.String()
}

// sendWithTLS uses implicit TLS (port 465) and falls back to STARTTLS
func (n *MailNotifier) sendWithTLS(addr string, auth smtp.Auth, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.config.Host})
	if err != nil {
		return n.sendWithSTARTTLS(addr, auth, msg)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, n.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer c.Close()
	return n.deliver(c, auth, msg)
}

func (n *MailNotifier) sendWithSTARTTLS(addr string, auth smtp.Auth, msg string) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: n.config.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}
	return n.deliver(c, auth, msg)
}

func (n *MailNotifier) deliver(c *smtp.Client, auth smtp.Auth, msg string) error {
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := c.Mail(n.config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := c.Rcpt(n.config.To); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return c.Quit()
}
