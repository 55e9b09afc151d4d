// Package action stages capability invocations that need user approval and
// keeps the audit trail of everything executed on a user's behalf.
package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action statuses. Pending actions wait for a user decision; executed,
// failed and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusExecuting = "executing"
	StatusExecuted  = "executed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// legalMoves lists the allowed status transitions. Approved is transient:
// the approval call drives it straight into executing.
var legalMoves = map[string][]string{
	StatusPending:   {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusExecuting},
	StatusExecuting: {StatusExecuted, StatusFailed},
}

func legalMove(from, to string) bool {
	for _, next := range legalMoves[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action is one capability invocation, either awaiting approval or recorded
// after execution. Params hold the raw arguments as proposed; they are
// re-validated against the catalog at execution time.
type Action struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Capability     string          `json:"capability"`
	Params         map[string]any  `json:"params"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	BatchID        string          `json:"batch_id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	ExecutedAt     time.Time       `json:"executed_at,omitzero"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StaleTransitionError reports a compare-and-set miss: the action was not in
// the expected status, usually because a concurrent request settled it first.
type StaleTransitionError struct {
	ID     string
	Status string // status found
	Want   string // status required
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("action %s: status is %s, not %s", e.ID, e.Status, e.Want)
}
