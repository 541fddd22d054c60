package knowledge

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/session"
)

type fakeEngine struct {
	answer string
	err    error
	calls  int
}

func (f *fakeEngine) Ask(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func TestSearchReturnsAnswer(t *testing.T) {
	engine := &fakeEngine{answer: "Claims are processed within 10 business days."}
	searcher, err := NewSearcher(engine, 8)
	require.NoError(t, err)

	answer, err := searcher.Search(context.Background(), "how long do claims take")
	require.NoError(t, err)
	assert.Equal(t, engine.answer, answer)
}

func TestSearchBlankQueryPrompts(t *testing.T) {
	engine := &fakeEngine{answer: "unused"}
	searcher, err := NewSearcher(engine, 8)
	require.NoError(t, err)

	answer, err := searcher.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, ClarificationPrompt, answer)
	assert.Zero(t, engine.calls, "blank query must not hit the engine")
}

func TestSearchCachesRepeatQueries(t *testing.T) {
	engine := &fakeEngine{answer: "cached answer"}
	searcher, err := NewSearcher(engine, 8)
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), "What is covered?")
	require.NoError(t, err)
	// Same query, different case: still one engine call.
	_, err = searcher.Search(context.Background(), "what is covered?")
	require.NoError(t, err)

	assert.Equal(t, 1, engine.calls)
}

func TestSearchEmptyAnswerIsNoResults(t *testing.T) {
	engine := &fakeEngine{answer: "  "}
	searcher, err := NewSearcher(engine, 8)
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), "obscure question")
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestSearchClassifiesTimeout(t *testing.T) {
	engine := &fakeEngine{err: context.DeadlineExceeded}
	searcher, err := NewSearcher(engine, 8)
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), "slow question")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSearchClassifiesConnectionFailure(t *testing.T) {
	engine := &fakeEngine{err: &net.OpError{Op: "dial", Err: errors.New("refused")}}
	searcher, err := NewSearcher(engine, 8)
	require.NoError(t, err)

	_, err = searcher.Search(context.Background(), "unreachable")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestEscalationMapping(t *testing.T) {
	cases := []struct {
		err    error
		reason session.Reason
	}{
		{ErrNoResults, session.ReasonNoFAQResults},
		{ErrTimeout, session.ReasonAPITimeout},
		{ErrConnection, session.ReasonConnectionError},
		{errors.New("other"), session.ReasonSystemError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.reason, EscalationReason(tc.err))
		assert.NotEmpty(t, EscalationMessage(tc.err))
	}
}

func TestLookupErrorMapping(t *testing.T) {
	le := NewLookupError(context.DeadlineExceeded)
	assert.Equal(t, session.ReasonAPITimeout, le.EscalationReason())
	assert.Contains(t, le.UserMessage(), "delay")
	assert.ErrorIs(t, le.Unwrap(), ErrTimeout)

	le = NewLookupError(ErrNoResults)
	assert.Equal(t, session.ReasonNoFAQResults, le.EscalationReason())
}
