package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/lead-relay/internal/config"
)

var ErrNotConfigured = errors.New("email fallback not configured")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier tells a human by email when a chat message could not be
// delivered. smtp.SendMail upgrades the connection with STARTTLS whenever the
// server offers it, which PLAIN auth requires on non-local hosts.
type EmailNotifier struct {
	cfg      config.EmailConfig
	sendMail sendFunc
	now      func() time.Time
}

func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

func (n *EmailNotifier) Enabled() bool { return n.cfg.Enabled() }

func (n *EmailNotifier) NotifyUndelivered(ctx context.Context, recipient, body, reason string) error {
	if !n.Enabled() {
		slog.Warn("email fallback skipped, smtp not configured", "recipient", recipient)
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("⚠️ WhatsApp unavailable - message for %s", recipient)
	text := fmt.Sprintf(`A WhatsApp message could not be delivered.

Reason: %s
Recipient: %s

Message that should have been sent:

%s

---
Automatic notification from lead-relay.
`, reason, recipient, body)

	msg := n.compose(subject, text)
	addr := net.JoinHostPort(n.cfg.SMTPServer, strconv.Itoa(n.cfg.SMTPPort))
	auth := smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.SMTPServer)

	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.To, msg); err != nil {
		return fmt.Errorf("send fallback email: %w", err)
	}

	slog.Info("fallback email sent", "recipient", recipient, "to", len(n.cfg.To))
	return nil
}

func (n *EmailNotifier) compose(subject, text string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(text, "\n", "\r\n"))
	return b.Bytes()
}
