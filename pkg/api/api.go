// Package api defines the wire types of the Adjutant HTTP and WebSocket API.
// External clients should depend on this package rather than on internal
// types; the gateway translates between the two.
package api

import (
	"encoding/json"
	"time"
)

// ChatRequest is the body of POST /v1/chat and an inbound WebSocket frame.
// ConversationID is optional; when empty the server opens a new conversation
// and returns its id in the response.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ChatResponse is the outcome of one turn: either a final answer, or a
// partial answer with actions staged for approval.
type ChatResponse struct {
	ConversationID   string   `json:"conversation_id"`
	FinalText        string   `json:"final_text,omitempty"`
	PartialText      string   `json:"partial_text,omitempty"`
	ExecutedActions  []Action `json:"executed_actions,omitempty"`
	PendingActions   []Action `json:"pending_actions,omitempty"`
	AwaitingApproval bool     `json:"awaiting_approval,omitempty"`
	Iterations       int      `json:"iterations"`
}

// Action is the externally visible view of an action record. The owning
// user is implied by the authenticated caller and never serialized.
type Action struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Capability     string          `json:"capability"`
	Params         map[string]any  `json:"params,omitempty"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	BatchID        string          `json:"batch_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at,omitzero"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DecisionRequest is the body of POST /v1/actions/approve and
// POST /v1/actions/reject.
type DecisionRequest struct {
	ActionIDs []string `json:"action_ids"`
}

// Decision reports how one action id settled. Status is empty when the id
// did not resolve to an action owned by the caller.
type Decision struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DecisionResponse is the result of a batch approve or reject.
type DecisionResponse struct {
	Decisions []Decision `json:"decisions"`
	Digest    string     `json:"digest,omitempty"`
}

// ActionList is the response of GET /v1/actions.
type ActionList struct {
	Actions []Action `json:"actions"`
}

// Health is the response of GET /healthz.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Error is the body of every non-2xx response and of WebSocket error frames.
type Error struct {
	Error string `json:"error"`
}
