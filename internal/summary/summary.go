// Package summary distills a conversation into a short handoff record
// for human agents.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"concierge/internal/session"
)

// ErrNoHistory indicates the session has no turns to summarize.
var ErrNoHistory = errors.New("no chat history to summarize")

// Engine produces text from a prompt. The reasoning backend and the
// knowledge engine both satisfy it.
type Engine interface {
	Ask(ctx context.Context, question string) (string, error)
}

const summaryPrompt = `Given the following conversation history between a user and an assistant, extract the user's **name** and **policy number** (if provided), and then summarize the entire conversation in 2-3 lines.

If name or policy number is not provided, return null for those fields.

Return the result in JSON format like:
{
  "name": "...",
  "policy_number": "...",
  "summary": "..."
}

Conversation History:
%s`

// Record is the structured summary handed to a human agent.
type Record struct {
	Name         string    `json:"name"`
	PolicyNumber string    `json:"policy_number"`
	Summary      string    `json:"summary"`
	Date         time.Time `json:"date"`
}

// Summarizer prompts an engine for a conversation summary and parses
// the structured reply.
type Summarizer struct {
	engine Engine
}

func New(engine Engine) *Summarizer {
	return &Summarizer{engine: engine}
}

// Summarize renders the turn history into the prompt, asks the engine,
// and decodes the JSON reply. Model output that is not quite valid
// JSON is repaired before decoding.
func (s *Summarizer) Summarize(ctx context.Context, turns []session.Turn) (*Record, error) {
	if len(turns) == 0 {
		return nil, ErrNoHistory
	}

	prompt := fmt.Sprintf(summaryPrompt, formatHistory(turns))
	raw, err := s.engine.Ask(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summary generation: %w", err)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	rec.Date = time.Now()
	return rec, nil
}

func formatHistory(turns []session.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		role := "Assistant"
		if turn.Role == session.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, turn.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func decodeRecord(raw string) (*Record, error) {
	payload := extractJSON(raw)

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return nil, fmt.Errorf("parse summary output: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &rec); err != nil {
			return nil, fmt.Errorf("parse repaired summary output: %w", err)
		}
	}
	return &rec, nil
}

// extractJSON trims any prose the model wraps around the JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}
