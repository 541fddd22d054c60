// Package knowledge wraps the FAQ/RAG lookup exposed by the reasoning
// engine. Failures are typed so callers can map each to its own
// escalation reason while reusing the same apologize-and-offer reply.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"concierge/internal/logging"
	"concierge/internal/session"
)

// Typed failures of the knowledge lookup.
var (
	ErrNoResults  = errors.New("knowledge: no results")
	ErrTimeout    = errors.New("knowledge: lookup timed out")
	ErrConnection = errors.New("knowledge: connection failed")
)

// ClarificationPrompt is returned for blank queries instead of a lookup.
const ClarificationPrompt = "I'd be happy to help! Could you please tell me what specific question you have?"

const defaultCacheSize = 256

// Engine is the underlying question-answering call.
type Engine interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Searcher answers FAQ queries through the engine, caching answers for
// repeated questions.
type Searcher struct {
	engine Engine
	cache  *lru.Cache[string, string]
	logger *logging.Logger
}

// NewSearcher builds a searcher over the given engine.
func NewSearcher(engine Engine, cacheSize int) (*Searcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("knowledge searcher requires an engine")
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create answer cache: %w", err)
	}
	return &Searcher{
		engine: engine,
		cache:  cache,
		logger: logging.NewComponentLogger("KnowledgeSearch"),
	}, nil
}

// Search answers a query. Blank queries short-circuit to a clarification
// prompt; empty engine answers surface as ErrNoResults.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ClarificationPrompt, nil
	}

	key := strings.ToLower(trimmed)
	if answer, ok := s.cache.Get(key); ok {
		return answer, nil
	}

	answer, err := s.engine.Ask(ctx, trimmed)
	if err != nil {
		return "", classifyError(err)
	}
	if strings.TrimSpace(answer) == "" {
		return "", ErrNoResults
	}

	s.cache.Add(key, answer)
	return answer, nil
}

// classifyError folds transport errors into the package's taxonomy.
func classifyError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case isConnectionError(err):
		return fmt.Errorf("%w: %v", ErrConnection, err)
	default:
		return err
	}
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// LookupError carries the escalation mapping for a failed lookup so
// the dialog layer can surface the specific reason instead of the
// generic agent error.
type LookupError struct {
	err error
}

// NewLookupError classifies and wraps a lookup failure.
func NewLookupError(err error) *LookupError {
	return &LookupError{err: classifyError(err)}
}

func (e *LookupError) Error() string { return e.err.Error() }

func (e *LookupError) Unwrap() error { return e.err }

// EscalationReason implements the dialog layer's reasoned-error hook.
func (e *LookupError) EscalationReason() session.Reason {
	return EscalationReason(e.err)
}

// UserMessage implements the dialog layer's reasoned-error hook.
func (e *LookupError) UserMessage() string {
	return EscalationMessage(e.err)
}

// EscalationReason maps a lookup failure to its reason code.
func EscalationReason(err error) session.Reason {
	switch {
	case errors.Is(err, ErrNoResults):
		return session.ReasonNoFAQResults
	case errors.Is(err, ErrTimeout):
		return session.ReasonAPITimeout
	case errors.Is(err, ErrConnection):
		return session.ReasonConnectionError
	default:
		return session.ReasonSystemError
	}
}

// EscalationMessage is the user-visible apology for a lookup failure.
// Every failure mode shares the same pattern: apologize, offer handoff.
func EscalationMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoResults):
		return "I couldn't find specific information about that in our knowledge base. Let me connect you with a specialist who can help."
	case errors.Is(err, ErrTimeout):
		return "I'm experiencing a delay accessing our knowledge base. Let me connect you with a human agent for immediate assistance."
	case errors.Is(err, ErrConnection):
		return "I'm having trouble connecting to our knowledge base. Let me get you connected with a human agent."
	default:
		return "I'm having trouble accessing that information right now. Let me connect you with a specialist who can help."
	}
}
