package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// SMTPSender relays mail over SMTP, upgrading with STARTTLS when the server
// offers it and authenticating with PLAIN when credentials are set.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		dial:     dialer.DialContext,
	}
}

func (s *SMTPSender) Name() string       { return "smtp" }
func (s *SMTPSender) IsConfigured() bool { return s.host != "" && s.port > 0 }

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Send delivers a single message.
func (s *SMTPSender) Send(ctx context.Context, msg Template) Result {
	if !s.IsConfigured() {
		return notConfigured(s.Name())
	}

	_, fromEmail := splitAddress(msg.From)
	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.host)

	raw, err := buildMIME(msg, messageID)
	if err != nil {
		return failure(s.Name(), "build message: %v", err)
	}

	if err := s.deliver(ctx, fromEmail, msg.To, raw); err != nil {
		return failure(s.Name(), "SMTP send failed: %v", err)
	}

	logger.Info("[SMTP] sent", "recipient", msg.To, "message_id", messageID)
	return Result{Success: true, MessageID: messageID, Provider: s.Name()}
}

// TestConnection dials, greets, and issues NOOP.
func (s *SMTPSender) TestConnection(ctx context.Context) bool {
	if !s.IsConfigured() {
		return false
	}
	c, err := s.connect(ctx)
	if err != nil {
		logger.Warn("provider connection test failed", "provider", s.Name(), "error", err.Error())
		return false
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		logger.Warn("provider connection test failed", "provider", s.Name(), "error", err.Error())
		return false
	}
	_ = c.Quit()
	return true
}

// connect opens a session, upgrades to TLS when offered and authenticates.
func (s *SMTPSender) connect(ctx context.Context) (*smtp.Client, error) {
	conn, err := s.dial(ctx, "tcp", s.addr())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			c.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if s.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
				c.Close()
				return nil, fmt.Errorf("AUTH: %w", err)
			}
		}
	}
	return c, nil
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, raw []byte) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}

// buildMIME renders a multipart/alternative message with quoted-printable
// parts.
func buildMIME(msg Template, messageID string) ([]byte, error) {
	for _, v := range []string{msg.To, msg.From, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("header value contains line break")
		}
	}

	var buf bytes.Buffer
	boundary := "=_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mimeHeader(msg.Subject))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	if len(msg.Tags) > 0 {
		fmt.Fprintf(&buf, "X-Tags: %s\r\n", strings.Join(msg.Tags, ","))
	}
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	parts := []struct{ ctype, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; charset=UTF-8\r\n", p.ctype)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func mimeHeader(v string) string {
	for _, r := range v {
		if r > 127 {
			return mime.QEncoding.Encode("UTF-8", v)
		}
	}
	return v
}
