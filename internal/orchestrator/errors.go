package orchestrator

import "fmt"

// IterationLimitError reports a turn that hit the loop cap without reaching
// a final answer.
type IterationLimitError struct {
	ConversationID string
	Limit          int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("conversation %s: no final answer after %d iterations", e.ConversationID, e.Limit)
}

// CancelledError reports a turn abandoned by its caller, tagged with the
// stage the cancellation interrupted.
type CancelledError struct {
	Stage string
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("turn cancelled during %s: %v", e.Stage, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }
