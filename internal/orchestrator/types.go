package orchestrator

import (
	"github.com/adjutant/adjutant/internal/action"
	"github.com/adjutant/adjutant/internal/provider"
)

// TurnRequest is one user message addressed to a conversation.
type TurnRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// TurnResult is what a turn produced: either a final answer, or a partial
// answer with staged actions awaiting the user's approval. ExecutedActions
// carries the auto-executed records of the turn in both cases.
type TurnResult struct {
	ConversationID   string           `json:"conversation_id"`
	FinalText        string           `json:"final_text,omitempty"`
	PartialText      string           `json:"partial_text,omitempty"`
	ExecutedActions  []*action.Action `json:"executed_actions,omitempty"`
	PendingActions   []*action.Action `json:"pending_actions,omitempty"`
	AwaitingApproval bool             `json:"awaiting_approval,omitempty"`
	Iterations       int              `json:"iterations"`
}

// invocation is one validated tool call with its catalog classification.
type invocation struct {
	call  provider.ToolCall
	typed any
	gated bool
}
