package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/session"
)

type scriptedEngine struct {
	reply  string
	err    error
	prompt string
}

func (e *scriptedEngine) Ask(_ context.Context, question string) (string, error) {
	e.prompt = question
	return e.reply, e.err
}

func turns() []session.Turn {
	return []session.Turn{
		{Role: session.RoleUser, Content: "Hi, I am Dana and my policy is PN-1234."},
		{Role: session.RoleAssistant, Content: "Hello Dana, how can I help with PN-1234?"},
	}
}

func TestSummarizeParsesCleanJSON(t *testing.T) {
	eng := &scriptedEngine{reply: `{"name":"Dana","policy_number":"PN-1234","summary":"Dana asked about their policy."}`}
	rec, err := New(eng).Summarize(context.Background(), turns())
	require.NoError(t, err)

	assert.Equal(t, "Dana", rec.Name)
	assert.Equal(t, "PN-1234", rec.PolicyNumber)
	assert.Equal(t, "Dana asked about their policy.", rec.Summary)
	assert.False(t, rec.Date.IsZero())
}

func TestSummarizePromptContainsHistory(t *testing.T) {
	eng := &scriptedEngine{reply: `{"name":"","policy_number":"","summary":"s"}`}
	_, err := New(eng).Summarize(context.Background(), turns())
	require.NoError(t, err)

	assert.True(t, strings.Contains(eng.prompt, "User: Hi, I am Dana"))
	assert.True(t, strings.Contains(eng.prompt, "Assistant: Hello Dana"))
}

func TestSummarizeRepairsSloppyJSON(t *testing.T) {
	// Trailing comma and unquoted key, typical model output defects.
	eng := &scriptedEngine{reply: "Here you go:\n{name: \"Dana\", \"policy_number\": \"PN-1\", \"summary\": \"short\",}"}
	rec, err := New(eng).Summarize(context.Background(), turns())
	require.NoError(t, err)
	assert.Equal(t, "Dana", rec.Name)
	assert.Equal(t, "short", rec.Summary)
}

func TestSummarizeEmptyHistory(t *testing.T) {
	eng := &scriptedEngine{}
	_, err := New(eng).Summarize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestSummarizeEngineError(t *testing.T) {
	eng := &scriptedEngine{err: errors.New("backend down")}
	_, err := New(eng).Summarize(context.Background(), turns())
	assert.Error(t, err)
}
