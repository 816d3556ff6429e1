package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/prohmpiriya/contacts-api/pkg/retry"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var subjects = map[Kind]string{
	KindConfirmEmail:  "Verify your email",
	KindResetPassword: "Reset your password",
}

var templateNames = map[Kind]string{
	KindConfirmEmail:  "verify_email.html",
	KindResetPassword: "reset_password_email.html",
}

// SMTPConfig holds configuration for SMTPSender
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	StartTLS bool
	Timeout  time.Duration
}

func (c *SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// deliverFunc writes a rendered message to the wire
type deliverFunc func(ctx context.Context, from, to string, body []byte) error

// SMTPSender renders the HTML templates and sends them over SMTP
type SMTPSender struct {
	config  *SMTPConfig
	deliver deliverFunc
}

// NewSMTPSender creates a new SMTPSender
func NewSMTPSender(cfg *SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	s := &SMTPSender{config: cfg}
	s.deliver = s.smtpDeliver
	return s
}

// Send renders and delivers msg. Unknown kinds and bad recipients are permanent failures.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	body, err := s.render(msg)
	if err != nil {
		return retry.Permanent(err)
	}
	return s.deliver(ctx, s.config.From, msg.To, body)
}

func (s *SMTPSender) render(msg *Message) ([]byte, error) {
	name, ok := templateNames[msg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	var html bytes.Buffer
	if err := templates.ExecuteTemplate(&html, name, msg); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}

	from := mail.Address{Name: s.config.FromName, Address: s.config.From}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subjects[msg.Kind]))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", msg.ID, s.config.Host)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.Write(html.Bytes())
	return buf.Bytes(), nil
}

func (s *SMTPSender) smtpDeliver(ctx context.Context, from, to string, body []byte) error {
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.config.addr())
	if err != nil {
		return fmt.Errorf("failed to dial smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if s.config.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls failed: %w", err)
		}
	}
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			// Bad credentials will not fix themselves
			return retry.Permanent(fmt.Errorf("smtp auth failed: %w", err))
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}
