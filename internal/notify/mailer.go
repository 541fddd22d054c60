// Package notify sends transactional email to tenants: verification
// codes, payment links, and lease agreements.
package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"path/filepath"

	"concierge/internal/config"
	"concierge/internal/logging"
)

// Attachment is a file embedded in an outgoing message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outgoing email.
type Message struct {
	To         string
	Subject    string
	Body       string
	Attachment *Attachment
}

// sendFunc matches smtp.SendMail, swapped in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends mail over authenticated SMTP with STARTTLS.
type Mailer struct {
	cfg    config.SMTPConfig
	send   sendFunc
	logger *logging.Logger
}

func NewMailer(cfg config.SMTPConfig, logger *logging.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Mailer{cfg: cfg, send: smtp.SendMail, logger: logging.OrNop(logger)}, nil
}

// Send delivers the message. smtp.SendMail negotiates STARTTLS when
// the server offers it, matching the submission-port setup.
func (m *Mailer) Send(msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient is required")
	}
	payload, err := buildMIME(m.cfg.From, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, payload); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	m.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// SendOTP mails a verification code.
func (m *Mailer) SendOTP(to, code string) error {
	return m.Send(Message{
		To:      to,
		Subject: "Your OTP for Verification",
		Body:    fmt.Sprintf("Your OTP is: %s\nValid for 5 minutes.", code),
	})
}

// SendPaymentLink mails the rent payment link.
func (m *Mailer) SendPaymentLink(to, tenantFirstName, link string) error {
	return m.Send(Message{
		To:      to,
		Subject: "Rent Payment Link Details",
		Body: fmt.Sprintf("Hi %s,\nThank you for contacting us. Please follow the link below for payment - %s",
			tenantFirstName, link),
	})
}

// SendLeaseAgreement mails the lease renewal agreement as an
// attachment.
func (m *Mailer) SendLeaseAgreement(to, tenantFirstName string, agreement Attachment) error {
	return m.Send(Message{
		To:      to,
		Subject: "Lease Renewal Agreement",
		Body: fmt.Sprintf("Hi %s,\nThank you for contacting us. Please find the lease agreement attached.",
			tenantFirstName),
		Attachment: &agreement,
	})
}

const mimeBoundary = "concierge-mail-boundary"

func buildMIME(from string, msg Message) ([]byte, error) {
	var b bytes.Buffer

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.Attachment == nil {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Body)
		b.WriteString("\r\n")
		return b.Bytes(), nil
	}

	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	name := filepath.Base(msg.Attachment.Filename)
	if name == "" || name == "." {
		return nil, fmt.Errorf("attachment filename is required")
	}
	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: application/octet-stream\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", name)

	encoded := base64.StdEncoding.EncodeToString(msg.Attachment.Content)
	for len(encoded) > 0 {
		n := 76
		if n > len(encoded) {
			n = len(encoded)
		}
		b.WriteString(encoded[:n])
		b.WriteString("\r\n")
		encoded = encoded[n:]
	}

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return b.Bytes(), nil
}
