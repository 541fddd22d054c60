// Package dialog coordinates a single conversational turn: history
// bookkeeping, the external reasoning call, and the escalation decision.
package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"concierge/internal/escalation"
	"concierge/internal/logging"
	"concierge/internal/session"
)

// AgentErrorMessage is the fallback reply when the reasoning call fails.
const AgentErrorMessage = "I apologize for the technical difficulty. Let me connect you with a human agent who can help you right away."

// escalationMarker is appended to queries that explicitly ask for a human
// so the reasoning engine sees the intent even when phrasing is oblique.
const escalationMarker = "[ESCALATION_NEEDED]"

var humanRequestKeywords = []string{"human", "person", "agent", "representative", "talk to someone"}

// Reasoner is the external LLM/agent engine that produces the assistant's
// raw reply for a query within a session thread.
type Reasoner interface {
	Invoke(ctx context.Context, query, sessionID string) (string, error)
}

// ReasonerFunc adapts a function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, query, sessionID string) (string, error)

func (f ReasonerFunc) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	return f(ctx, query, sessionID)
}

// ReasonedError lets a reasoner attach a specific escalation reason and
// user-facing message to a failure. Failures that do not implement it
// get the generic agent error.
type ReasonedError interface {
	error
	EscalationReason() session.Reason
	UserMessage() string
}

// State of a session's in-flight turn.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateResponded  State = "responded"
	StateEscalated  State = "escalated"
	StateErrored    State = "errored"
)

// Reply is the structured outcome of one turn. Failure paths are folded
// into it rather than surfaced as errors: every user turn yields a reply.
type Reply struct {
	Message               string         `json:"message"`
	ShowEscalationButtons bool           `json:"show_escalation_buttons"`
	EscalationReason      session.Reason `json:"escalation_reason,omitempty"`
	SessionID             string         `json:"session_id"`
	State                 State          `json:"-"`
}

// Config bounds the reasoning call.
type Config struct {
	Timeout time.Duration
}

// Controller runs the per-turn state machine. It holds no conversational
// state of its own; everything it reads and writes goes through the
// session store. Turns within a session are serialized, sessions are
// independent.
type Controller struct {
	store    session.Store
	reasoner Reasoner
	cfg      Config
	logger   *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewController wires a controller to its collaborators.
func NewController(store session.Store, reasoner Reasoner, cfg Config, logger *logging.Logger) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Controller{
		store:    store,
		reasoner: reasoner,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		locks:    make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing turns for one session.
func (c *Controller) sessionLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[id] = lock
	}
	return lock
}

// threadForgetter is implemented by reasoners that keep per-session
// state on the engine side, like the orchestration client's thread map.
type threadForgetter interface {
	ForgetThread(sessionID string)
}

// ReleaseSession drops the per-session lock bookkeeping and tells the
// reasoner to forget any engine-side thread. Called on session cleanup
// so neither map grows unbounded.
func (c *Controller) ReleaseSession(id string) {
	if f, ok := c.reasoner.(threadForgetter); ok {
		f.ForgetThread(id)
	}
	c.mu.Lock()
	delete(c.locks, id)
	c.mu.Unlock()
}

// HandleTurn processes one user turn end to end. Turn N+1 for a session
// does not start until turn N's assistant turn has been appended.
func (c *Controller) HandleTurn(ctx context.Context, sessionID, query string) Reply {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.store.AppendTurn(ctx, sessionID, session.Turn{
		Role:    session.RoleUser,
		Content: query,
	}); err != nil {
		c.logger.Error("append user turn failed", "session_id", sessionID, "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	raw, err := c.reasoner.Invoke(callCtx, preprocessQuery(query), sessionID)
	if err != nil {
		c.logger.Warn("reasoning call failed", "session_id", sessionID, "error", err)
		message, reason := AgentErrorMessage, session.ReasonAgentError
		var re ReasonedError
		if errors.As(err, &re) {
			message, reason = re.UserMessage(), re.EscalationReason()
		}
		return c.finishTurn(ctx, sessionID, Reply{
			Message:               message,
			ShowEscalationButtons: true,
			EscalationReason:      reason,
			SessionID:             sessionID,
			State:                 StateErrored,
		})
	}

	decision := escalation.Classify(raw, query)
	state := StateResponded
	if decision.Escalate {
		state = StateEscalated
	}
	return c.finishTurn(ctx, sessionID, Reply{
		Message:               decision.Message,
		ShowEscalationButtons: decision.Escalate,
		EscalationReason:      decision.Reason,
		SessionID:             sessionID,
		State:                 state,
	})
}

// finishTurn appends the assistant turn for the reply. The append must
// happen for every path so history keeps strict user/assistant
// alternation even under failure.
func (c *Controller) finishTurn(ctx context.Context, sessionID string, reply Reply) Reply {
	if err := c.store.AppendTurn(ctx, sessionID, session.Turn{
		Role:      session.RoleAssistant,
		Content:   reply.Message,
		Escalated: reply.ShowEscalationButtons,
		Reason:    reply.EscalationReason,
	}); err != nil {
		c.logger.Error("append assistant turn failed", "session_id", sessionID, "error", err)
	}
	return reply
}

// preprocessQuery tags explicit human requests before the reasoning call.
func preprocessQuery(query string) string {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	for _, keyword := range humanRequestKeywords {
		if strings.Contains(lower, keyword) {
			return trimmed + " " + escalationMarker
		}
	}
	return trimmed
}
