package state

import (
	"time"

	"github.com/adjutant/adjutant/internal/provider"
)

// Conversation is one user's chat thread with the assistant, including the
// tool-call messages the orchestrator exchanged with the model.
type Conversation struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Messages  []provider.Message `json:"messages"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Trim caps msgs to the last limit entries. A window must not begin with a
// tool result whose tool_use message was trimmed away, so leading tool
// messages are dropped as well. limit <= 0 means no cap.
func Trim(msgs []provider.Message, limit int) []provider.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	out := msgs[len(msgs)-limit:]
	for len(out) > 0 && out[0].Role == provider.RoleTool {
		out = out[1:]
	}
	return out
}
