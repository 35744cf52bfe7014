package llm

import "fmt"

// CallError wraps a vendor SDK error with a Retryable flag, mirroring
// the teacher's ErrorChunk.Retryable field so callers can distinguish
// transient failures (rate limits, timeouts) from permanent ones (bad
// request, auth failure) without inspecting vendor-specific types.
type CallError struct {
	Backend   string
	Retryable bool
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call (%s, retryable=%v): %v", e.Backend, e.Retryable, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError wraps err with the originating backend and whether a
// retry is worth attempting.
func NewCallError(backend string, retryable bool, err error) *CallError {
	return &CallError{Backend: backend, Retryable: retryable, Err: err}
}
