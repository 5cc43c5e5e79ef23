package render

import (
	"fmt"
	"strings"
)

// DispatchError is returned when the backend rejects a chunk submission.
type DispatchError struct {
	ChunkIndex int
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("Chunk %d submission failed: %v", e.ChunkIndex+1, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// PollTimeoutError is returned when a job never reached a terminal state
// within its attempt budget.
type PollTimeoutError struct {
	ChunkIndex int
	JobID      string
	Attempts   int
	// LastErr is the most recent transient poll error, if any.
	LastErr error
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("Chunk %d timed out after %d status checks (job %s)", e.ChunkIndex+1, e.Attempts, e.JobID)
}

func (e *PollTimeoutError) Unwrap() error {
	return e.LastErr
}

// ChunkRenderError carries a terminal failure reported by the backend.
type ChunkRenderError struct {
	ChunkIndex int
	JobID      string
	Message    string
}

func (e *ChunkRenderError) Error() string {
	return fmt.Sprintf("Chunk %d failed: %s", e.ChunkIndex+1, e.Message)
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "; ")
}
