// Package otp issues and verifies short-lived one-time passwords for
// email verification.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const codeLength = 6

// Manager keeps at most one pending code per email address. Codes are
// single-use and expire after the configured TTL.
type Manager struct {
	mu    sync.Mutex
	codes map[string]entry
	ttl   time.Duration

	// now is swapped in tests.
	now func() time.Time
}

type entry struct {
	code   string
	expiry time.Time
}

// NewManager builds a manager with the given code lifetime; a
// non-positive ttl defaults to five minutes.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		codes: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create issues a fresh code for the email, replacing any pending one.
func (m *Manager) Create(email string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	m.mu.Lock()
	m.codes[email] = entry{code: code, expiry: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return code, nil
}

// Verify consumes the pending code for the email when it matches and
// has not expired. Expired codes are dropped on sight, so a correct
// but late code also fails.
func (m *Manager) Verify(email, code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.codes[email]
	if !ok {
		return false
	}
	if m.now().After(stored.expiry) {
		delete(m.codes, email)
		return false
	}
	if stored.code != code {
		return false
	}
	delete(m.codes, email)
	return true
}

func generateCode() (string, error) {
	digits := make([]byte, codeLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
