package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/session"
)

func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		query    string
		escalate bool
		reason   session.Reason
	}{
		{
			name:     "empty response escalates as system error",
			raw:      "   ",
			query:    "what is my balance",
			escalate: true,
			reason:   session.ReasonSystemError,
		},
		{
			name:     "explicit offer in response",
			raw:      "Let me connect you with a specialist.",
			query:    "what is my balance",
			escalate: true,
			reason:   session.ReasonExplicitOffer,
		},
		{
			name:     "user asks for a representative",
			raw:      "Sure, here's your balance: $1,204.33.",
			query:    "I want to talk to a representative",
			escalate: true,
			reason:   session.ReasonUserRequested,
		},
		{
			name:     "security trigger in query",
			raw:      "I can help with that.",
			query:    "my account locked me out again",
			escalate: true,
			reason:   session.ReasonSecurity,
		},
		{
			name:     "security trigger in response",
			raw:      "It looks like there was fraud detected on your card.",
			query:    "why was my card declined",
			escalate: true,
			reason:   session.ReasonSecurity,
		},
		{
			name:     "error indicator in response",
			raw:      "I'm having trouble reaching the policy system right now.",
			query:    "show my policy",
			escalate: true,
			reason:   session.ReasonSystemError,
		},
		{
			name:     "too-short response",
			raw:      "Ok.",
			query:    "explain my coverage",
			escalate: true,
			reason:   session.ReasonIncompleteResponse,
		},
		{
			name:     "claim success never escalates",
			raw:      "Your claim has been approved and paid.",
			query:    "what happened with my claim",
			escalate: false,
		},
		{
			name:     "claim success cancels error indicator",
			raw:      "We were having trouble earlier, but your claim has been approved and paid.",
			query:    "claim status",
			escalate: false,
		},
		{
			name:     "claim problem escalates as unresolved",
			raw:      "Your claim is currently under investigation by our adjusters and may take several weeks.",
			query:    "claim status",
			escalate: true,
			reason:   session.ReasonUnresolvedIssue,
		},
		{
			name:     "claim success does not cancel explicit offer",
			raw:      "Your claim has been approved. Let me connect you with a specialist to finalize.",
			query:    "claim status",
			escalate: true,
			reason:   session.ReasonExplicitOffer,
		},
		{
			name:     "claim success does not cancel user request",
			raw:      "Your claim has been approved and paid.",
			query:    "great, now let me talk to someone",
			escalate: true,
			reason:   session.ReasonUserRequested,
		},
		{
			name:     "ordinary helpful answer",
			raw:      "Your current balance is $1,204.33 and your next statement closes on the 14th.",
			query:    "what is my balance",
			escalate: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.raw, tc.query)
			assert.Equal(t, tc.escalate, decision.Escalate)
			if tc.escalate {
				assert.Equal(t, tc.reason, decision.Reason)
			}
			require.NotEmpty(t, decision.Message)
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	raw := "Let me connect you with a specialist."
	query := "what is my balance"

	first := Classify(raw, query)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify(raw, query))
	}
}

func TestNormalizeStripsMarkdown(t *testing.T) {
	got := Normalize("This is **bold** and *italic* text")
	assert.Equal(t, "This is bold and italic text", got)
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("Line one.\n\n\nLine   two.")
	assert.Equal(t, "Line one. Line two.", got)
}

func TestNormalizeDropsTableFragments(t *testing.T) {
	got := Normalize("Here is the data | col1 | col2 | and the summary.")
	assert.NotContains(t, got, "|")
}

func TestNormalizeDeduplicatesRepeatedSentences(t *testing.T) {
	got := Normalize("Your claim was approved. Your claim was approved! A payment is on the way.")
	assert.Equal(t, "Your claim was approved. A payment is on the way.", got)
}

func TestClassifyMatchesPhrasesInsideMarkdown(t *testing.T) {
	// Emphasis markers must not hide escalation phrases from matching.
	decision := Classify("Let me **connect you with** an agent.", "hello")
	assert.True(t, decision.Escalate)
	assert.Equal(t, session.ReasonExplicitOffer, decision.Reason)
}
