package failover

import "fmt"

// AllExhaustedError reports that the primary model and every fallback stayed
// overloaded through all retry attempts.
type AllExhaustedError struct {
	Attempted []string
}

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted, attempted: %v", e.Attempted)
}
