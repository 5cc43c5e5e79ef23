// Package job provides the render Job aggregate, its repository port and the
// service that runs jobs through the orchestrator.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/job/id"
	"github.com/maauso/longrender/internal/progress"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and waits to start.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the render is in progress.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the video was published.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the render ended in error.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one long-video render request.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// ProjectID is the caller's logical project id.
	ProjectID string
	// Status is the current job state.
	Status Status
	// Composition is the render input. It is never modified.
	Composition *composition.Descriptor
	// Progress is the latest snapshot reported by the orchestrator.
	Progress progress.RenderProgress
	// Error contains the render error if the job failed.
	Error string
	// FailedPhase is the phase that failed.
	FailedPhase string
	// FailedChunk is the chunk the failure is attributed to, or -1.
	FailedChunk int
	// VideoURL is the public URL of the published video.
	VideoURL string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New(projectID string, desc *composition.Descriptor) *Job {
	j := NewWithID(id.Generate())
	j.ProjectID = projectID
	j.Composition = desc
	return j
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:          jobID,
		Status:      StatusInQueue,
		FailedChunk: -1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the published URL and transitions the job to COMPLETED.
func (j *Job) Complete(videoURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.VideoURL = videoURL
	return nil
}

// Fail records the failure and transitions the job to FAILED.
func (j *Job) Fail(errMsg, phase string, chunkIndex int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.FailedPhase = phase
	j.FailedChunk = chunkIndex
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress stores the latest progress snapshot.
func (j *Job) UpdateProgress(p progress.RenderProgress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = cloneProgress(p)
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a deep copy of the job for safe reads. The composition is
// shared since it is immutable.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		ProjectID:   j.ProjectID,
		Status:      j.Status,
		Composition: j.Composition,
		Progress:    cloneProgress(j.Progress),
		Error:       j.Error,
		FailedPhase: j.FailedPhase,
		FailedChunk: j.FailedChunk,
		VideoURL:    j.VideoURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func cloneProgress(p progress.RenderProgress) progress.RenderProgress {
	if p.CurrentChunk != nil {
		c := *p.CurrentChunk
		p.CurrentChunk = &c
	}
	return p
}
