package mailer

import (
	"context"
	"strings"

	"github.com/prohmpiriya/contacts-api/pkg/logger"
	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them.
// It is used when no SMTP host is configured.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.Get()
	}
	return &LogSender{log: log}
}

// Send logs msg
func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.log.InfoContext(ctx, "Mail not sent, SMTP is not configured",
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("to", msg.To),
		zap.String("link", renderedLink(msg)),
	)
	return nil
}

// renderedLink rebuilds the link the templates would contain
func renderedLink(msg *Message) string {
	host := strings.TrimRight(msg.Host, "/")
	switch msg.Kind {
	case KindConfirmEmail:
		return host + "/api/v1/auth/confirmed_email/" + msg.Token
	case KindResetPassword:
		return host + "/reset-password?token=" + msg.Token
	}
	return ""
}

// NewSender returns an SMTPSender, or a LogSender when no SMTP host is configured
func NewSender(cfg *SMTPConfig, log *logger.Logger) Sender {
	if cfg == nil || cfg.Host == "" {
		return NewLogSender(log)
	}
	return NewSMTPSender(cfg)
}
