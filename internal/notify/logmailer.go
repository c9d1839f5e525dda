package notify

import (
	"context"
	"strings"

	"github.com/secretops/secretops/internal/logging"
)

// LogMailer writes mail to the log instead of delivering it. It backs
// installations without SMTP configuration, so notification paths
// stay exercised in development.
type LogMailer struct {
	logger *logging.Logger
}

// NewLogMailer creates the mailer.
func NewLogMailer(logger *logging.Logger) *LogMailer {
	return &LogMailer{logger: logger.Named("mail")}
}

func (m *LogMailer) SendMail(ctx context.Context, mail Mail) error {
	m.logger.Info("mail (%s) to %s: %s", mail.Template, strings.Join(mail.Recipients, ", "), mail.SubjectLine)
	return nil
}
