package session

import "time"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Reason is the fixed enumeration of escalation reason codes surfaced to
// clients alongside the escalation flag.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonExplicitOffer      Reason = "explicit_offer"
	ReasonUserRequested      Reason = "user_requested"
	ReasonSecurity           Reason = "security"
	ReasonSystemError        Reason = "system_error"
	ReasonIncompleteResponse Reason = "incomplete_response"
	ReasonUnresolvedIssue    Reason = "unresolved_issue"
	ReasonAgentError         Reason = "agent_error"
	ReasonNoFAQResults       Reason = "no_faq_results"
	ReasonAPITimeout         Reason = "api_timeout"
	ReasonConnectionError    Reason = "connection_error"
)

// Turn is a single message within a session. Turns are immutable once
// appended; assistant turns carry the escalation decision made for them.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Escalated bool      `json:"escalated,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one continuous conversation with ordered history.
type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Escalated reports whether any assistant turn in the session carried an
// escalation decision. The flag is derived from the turns rather than
// stored, so status reads stay consistent with history.
func (s *Session) Escalated() bool {
	if s == nil {
		return false
	}
	for _, turn := range s.Turns {
		if turn.Role == RoleAssistant && turn.Escalated {
			return true
		}
	}
	return false
}

// snapshot copies the session so callers can read Turns without holding
// the owning store's lock.
func (s *Session) snapshot() *Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	return &out
}
