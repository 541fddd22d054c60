// Package escalation decides, per turn, whether a conversation should be
// handed off to a human agent. Classification is a pure function of the
// assistant's raw text and the user's query.
package escalation

import (
	"regexp"
	"strings"

	"concierge/internal/session"
)

// FallbackMessage replaces an empty or unusable assistant response.
const FallbackMessage = "I apologize, but I'm having trouble processing your request. Let me connect you with a human agent."

// minResponseLength is the shortest cleaned response accepted as complete.
const minResponseLength = 10

// Decision is the classifier output: the cleaned message plus the
// escalation flag and reason code.
type Decision struct {
	Message  string
	Escalate bool
	Reason   session.Reason
}

var (
	boldPattern       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern     = regexp.MustCompile(`\*([^*]+?)\*`)
	tableCellPattern  = regexp.MustCompile(`\|[^|]*\|`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	sentenceEnd       = regexp.MustCompile(`([.!?]+)\s+`)
	punctuation       = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Classify maps (raw assistant text, user query) to a Decision.
//
// Rules are priority ordered; the first match wins. Explicit-offer,
// user-request, and security triggers are unconditional. The error and
// length signals can be cancelled by a claim success indicator, which
// reports a positive outcome rather than a failure.
func Classify(raw, query string) Decision {
	if strings.TrimSpace(raw) == "" {
		return Decision{
			Message:  FallbackMessage,
			Escalate: true,
			Reason:   session.ReasonSystemError,
		}
	}

	cleaned := Normalize(raw)
	responseLower := strings.ToLower(cleaned)
	queryLower := strings.ToLower(query)

	if containsAny(responseLower, explicitOfferPhrases) {
		return Decision{Message: cleaned, Escalate: true, Reason: session.ReasonExplicitOffer}
	}
	if containsAny(queryLower, humanRequestPhrases) {
		return Decision{Message: cleaned, Escalate: true, Reason: session.ReasonUserRequested}
	}
	if containsAny(responseLower, securityTriggers) || containsAny(queryLower, securityTriggers) {
		return Decision{Message: cleaned, Escalate: true, Reason: session.ReasonSecurity}
	}

	// Soft signals: held pending the claim-outcome check below.
	softReason := session.ReasonNone
	if containsAny(responseLower, errorIndicators) {
		softReason = session.ReasonSystemError
	} else if len(strings.TrimSpace(cleaned)) < minResponseLength {
		softReason = session.ReasonIncompleteResponse
	}

	if containsAny(responseLower, domainKeywords) {
		// A claim response with a success indicator is a positive
		// outcome: it cancels the soft signals above.
		if containsAny(responseLower, successIndicators) {
			return Decision{Message: cleaned}
		}
		if softReason != session.ReasonNone {
			return Decision{Message: cleaned, Escalate: true, Reason: softReason}
		}
		if containsAny(responseLower, problemIndicators) {
			return Decision{Message: cleaned, Escalate: true, Reason: session.ReasonUnresolvedIssue}
		}
		return Decision{Message: cleaned}
	}

	if softReason != session.ReasonNone {
		return Decision{Message: cleaned, Escalate: true, Reason: softReason}
	}

	return Decision{Message: cleaned}
}

// Normalize strips markdown emphasis and table fragments, collapses
// whitespace, and deduplicates near-identical sentences left behind by
// repeated model output.
func Normalize(text string) string {
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = tableCellPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	return dedupeSentences(text)
}

// dedupeSentences removes sentences that repeat an earlier sentence,
// compared case- and punctuation-insensitively.
func dedupeSentences(text string) string {
	if text == "" {
		return text
	}

	// Keep the terminator attached to its sentence while splitting.
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")

	seen := make(map[string]bool, len(parts))
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		key := sentenceKey(trimmed)
		if key == "" || !seen[key] {
			kept = append(kept, trimmed)
		}
		if key != "" {
			seen[key] = true
		}
	}
	return strings.Join(kept, " ")
}

func sentenceKey(sentence string) string {
	key := punctuation.ReplaceAllString(strings.ToLower(sentence), "")
	key = whitespacePattern.ReplaceAllString(key, " ")
	return strings.TrimSpace(key)
}

func containsAny(haystack string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}
