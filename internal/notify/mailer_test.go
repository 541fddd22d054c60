package notify

import (
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/config"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	body string
}

func newTestMailer(t *testing.T) (*Mailer, *capturedMail) {
	t.Helper()
	m, err := NewMailer(config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "support@example.com",
		Password: "secret",
	}, nil)
	require.NoError(t, err)

	captured := &capturedMail{}
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.body = string(msg)
		return nil
	}
	return m, captured
}

func TestNewMailerDefaultsFromToUsername(t *testing.T) {
	m, _ := newTestMailer(t)
	require.NoError(t, m.SendOTP("tenant@example.com", "123456"))
}

func TestNewMailerRequiresHost(t *testing.T) {
	_, err := NewMailer(config.SMTPConfig{}, nil)
	assert.Error(t, err)
}

func TestSendOTPBody(t *testing.T) {
	m, captured := newTestMailer(t)
	require.NoError(t, m.SendOTP("tenant@example.com", "987654"))

	assert.Equal(t, "smtp.example.com:587", captured.addr)
	assert.Equal(t, "support@example.com", captured.from)
	assert.Equal(t, []string{"tenant@example.com"}, captured.to)
	assert.Contains(t, captured.body, "Subject: Your OTP for Verification")
	assert.Contains(t, captured.body, "Your OTP is: 987654")
}

func TestSendPaymentLink(t *testing.T) {
	m, captured := newTestMailer(t)
	require.NoError(t, m.SendPaymentLink("tenant@example.com", "Dana", "https://pay.example.com/x"))

	assert.Contains(t, captured.body, "Subject: Rent Payment Link Details")
	assert.Contains(t, captured.body, "Hi Dana,")
	assert.Contains(t, captured.body, "https://pay.example.com/x")
}

func TestSendLeaseAgreementAttachesFile(t *testing.T) {
	m, captured := newTestMailer(t)
	require.NoError(t, m.SendLeaseAgreement("tenant@example.com", "Dana", Attachment{
		Filename: "Lease_Agreement_Dana.pdf",
		Content:  []byte("%PDF-1.4 fake"),
	}))

	assert.Contains(t, captured.body, "multipart/mixed")
	assert.Contains(t, captured.body, `filename="Lease_Agreement_Dana.pdf"`)
	assert.Contains(t, captured.body, "Content-Transfer-Encoding: base64")
	// Base64 lines stay within the RFC line limit.
	for _, line := range strings.Split(captured.body, "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}
}

func TestSendRejectsEmptyRecipient(t *testing.T) {
	m, _ := newTestMailer(t)
	assert.Error(t, m.Send(Message{Subject: "x", Body: "y"}))
}
