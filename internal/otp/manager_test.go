package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProducesSixDigits(t *testing.T) {
	m := NewManager(0)
	code, err := m.Create("a@example.com")
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9', "non-digit %q in code", r)
	}
}

func TestVerifyConsumesCode(t *testing.T) {
	m := NewManager(time.Minute)
	code, err := m.Create("a@example.com")
	require.NoError(t, err)

	assert.True(t, m.Verify("a@example.com", code))
	// Single use.
	assert.False(t, m.Verify("a@example.com", code))
}

func TestVerifyWrongCodeKeepsPending(t *testing.T) {
	m := NewManager(time.Minute)
	code, err := m.Create("a@example.com")
	require.NoError(t, err)

	assert.False(t, m.Verify("a@example.com", "000000"))
	// A wrong guess does not burn the real code.
	assert.True(t, m.Verify("a@example.com", code))
}

func TestVerifyExpiredCode(t *testing.T) {
	m := NewManager(time.Minute)
	code, err := m.Create("a@example.com")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.False(t, m.Verify("a@example.com", code))
}

func TestCreateReplacesPendingCode(t *testing.T) {
	m := NewManager(time.Minute)
	first, err := m.Create("a@example.com")
	require.NoError(t, err)
	second, err := m.Create("a@example.com")
	require.NoError(t, err)

	if first != second {
		assert.False(t, m.Verify("a@example.com", first))
	}
	assert.True(t, m.Verify("a@example.com", second))
}

func TestVerifyUnknownEmail(t *testing.T) {
	m := NewManager(time.Minute)
	assert.False(t, m.Verify("nobody@example.com", "123456"))
}
