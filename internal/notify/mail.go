// Package notify delivers rotation, sync, and reminder notifications
// by email and as in-app notifications.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"regexp"
	"strings"
	"time"

	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/logging"
)

// Template names understood by the mailer.
const (
	TemplateSyncFailed     = "secret-sync-failed"
	TemplateRotationFailed = "secret-rotation-failed"
	TemplateSecretReminder = "secret-reminder"
)

// Mail is one outbound message.
type Mail struct {
	Template      string
	SubjectLine   string
	Recipients    []string
	Substitutions map[string]string
}

// Mailer sends notification mail.
type Mailer interface {
	SendMail(ctx context.Context, mail Mail) error
}

// headerPattern matches common email header injection patterns.
var headerPattern = regexp.MustCompile(`(?i)\b(bcc|cc|to|from|subject|reply-to|x-[a-z0-9-]+)\s*:`)

// sanitizeHeader strips newlines and header-like prefixes from a
// value interpolated into a subject line.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return headerPattern.ReplaceAllString(s, "")
}

// SMTPSendFunc is the function signature for sending emails via SMTP.
type SMTPSendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends mail through a configured SMTP server.
type SMTPMailer struct {
	config     config.EmailConfig
	logger     *logging.Logger
	smtpSender SMTPSendFunc
}

// NewSMTPMailer creates a mailer from the email configuration.
func NewSMTPMailer(cfg config.EmailConfig, logger *logging.Logger) *SMTPMailer {
	return &SMTPMailer{
		config:     cfg,
		logger:     logger.Named("mail"),
		smtpSender: smtp.SendMail,
	}
}

// Validate checks that the mailer configuration is usable.
func (m *SMTPMailer) Validate() error {
	if m.config.SMTP.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if m.config.SMTP.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if m.config.From == "" {
		return fmt.Errorf("from address is required")
	}
	return nil
}

// SendMail renders the template and delivers one message to all
// recipients.
func (m *SMTPMailer) SendMail(ctx context.Context, mail Mail) error {
	if len(mail.Recipients) == 0 {
		return fmt.Errorf("mail %q has no recipients", mail.Template)
	}

	body, err := renderTemplate(mail.Template, mail.Substitutions)
	if err != nil {
		return err
	}
	msg := m.buildMIMEMessage(mail, body)

	addr := fmt.Sprintf("%s:%d", m.config.SMTP.Host, m.config.SMTP.Port)

	var auth smtp.Auth
	if m.config.SMTP.Username != "" {
		auth = smtp.PlainAuth("", m.config.SMTP.Username, m.config.SMTP.Password, m.config.SMTP.Host)
	}

	if err := m.smtpSender(addr, auth, m.config.From, mail.Recipients, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	m.logger.Debug("sent %s mail to %d recipients", mail.Template, len(mail.Recipients))
	return nil
}

// buildMIMEMessage creates a plain-text MIME message.
func (m *SMTPMailer) buildMIMEMessage(mail Mail, body string) string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", m.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(mail.Recipients, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeHeader(mail.SubjectLine)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")

	return buf.String()
}

// renderTemplate builds the plain-text body for a template from its
// substitutions.
func renderTemplate(template string, subs map[string]string) (string, error) {
	get := func(key string) string { return subs[key] }

	var buf bytes.Buffer
	switch template {
	case TemplateSyncFailed:
		fmt.Fprintf(&buf, "Secret sync %q failed.\n\n", get("syncName"))
		fmt.Fprintf(&buf, "Destination: %s\n", get("destination"))
		fmt.Fprintf(&buf, "Project: %s\n", get("projectName"))
		fmt.Fprintf(&buf, "Environment: %s\n", get("environment"))
		fmt.Fprintf(&buf, "Failure: %s\n", get("failureMessage"))
		if url := get("syncUrl"); url != "" {
			fmt.Fprintf(&buf, "\nReview the sync: %s\n", url)
		}
	case TemplateRotationFailed:
		fmt.Fprintf(&buf, "Credential rotation %q failed.\n\n", get("rotationName"))
		fmt.Fprintf(&buf, "Type: %s\n", get("rotationType"))
		fmt.Fprintf(&buf, "Project: %s\n", get("projectName"))
		fmt.Fprintf(&buf, "Environment: %s\n", get("environment"))
		fmt.Fprintf(&buf, "Secret path: %s\n", get("secretPath"))
		fmt.Fprintf(&buf, "Last attempted: %s\n", get("lastAttemptedAt"))
		fmt.Fprintf(&buf, "Failure: %s\n", get("failureMessage"))
		if url := get("rotationUrl"); url != "" {
			fmt.Fprintf(&buf, "\nReview the rotation: %s\n", url)
		}
	case TemplateSecretReminder:
		fmt.Fprintf(&buf, "Reminder for a secret in project %q (%s).\n",
			get("projectName"), get("organizationName"))
		if note := get("note"); note != "" {
			fmt.Fprintf(&buf, "\nNote: %s\n", note)
		}
	default:
		return "", fmt.Errorf("unknown mail template %q", template)
	}
	return buf.String(), nil
}
