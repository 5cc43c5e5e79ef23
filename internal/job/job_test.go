package job

import (
	"strings"
	"testing"
	"time"

	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/progress"
)

func testComposition() *composition.Descriptor {
	return &composition.Descriptor{
		Scenes: []composition.SceneRef{
			{ID: "intro", DurationSeconds: 30},
			{ID: "body", DurationSeconds: 90},
		},
		FPS: 30,
	}
}

func TestNew(t *testing.T) {
	desc := testComposition()
	job := New("proj-1", desc)

	if !strings.HasPrefix(job.ID, "render-") {
		t.Errorf("expected generated render ID, got %q", job.ID)
	}
	if job.ProjectID != "proj-1" {
		t.Errorf("expected project proj-1, got %s", job.ProjectID)
	}
	if job.Composition != desc {
		t.Error("expected composition to be attached")
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
	if job.FailedChunk != -1 {
		t.Errorf("expected FailedChunk -1, got %d", job.FailedChunk)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	id := "test-job-123"
	job := NewWithID(id)

	if job.ID != id {
		t.Errorf("expected ID %s, got %s", id, job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// Valid transitions
		{"IN_QUEUE to RUNNING", StatusInQueue, StatusRunning, false},
		{"IN_QUEUE to FAILED", StatusInQueue, StatusFailed, false},
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		// Invalid transitions
		{"IN_QUEUE to COMPLETED", StatusInQueue, StatusCompleted, true},
		{"RUNNING to IN_QUEUE", StatusRunning, StatusInQueue, true},
		{"COMPLETED to IN_QUEUE", StatusCompleted, StatusInQueue, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"FAILED to RUNNING", StatusFailed, StatusRunning, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
		{"unknown state", Status("BOGUS"), StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Start(t *testing.T) {
	job := NewWithID("test")

	if err := job.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, job.Status)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
}

func TestJob_Complete(t *testing.T) {
	job := NewWithID("test")
	_ = job.Start()

	if err := job.Complete("https://cdn/v.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, job.Status)
	}
	if job.VideoURL != "https://cdn/v.mp4" {
		t.Errorf("expected video URL to be recorded, got %q", job.VideoURL)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_Complete_FromQueueRejected(t *testing.T) {
	job := NewWithID("test")

	if err := job.Complete("https://cdn/v.mp4"); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if job.VideoURL != "" {
		t.Errorf("expected no video URL on rejected transition, got %q", job.VideoURL)
	}
}

func TestJob_Fail(t *testing.T) {
	job := NewWithID("test")
	_ = job.Start()

	if err := job.Fail("Chunk 2 failed: OOM", "rendering", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error != "Chunk 2 failed: OOM" {
		t.Errorf("expected error message, got %q", job.Error)
	}
	if job.FailedPhase != "rendering" || job.FailedChunk != 1 {
		t.Errorf("expected phase rendering chunk 1, got %s %d", job.FailedPhase, job.FailedChunk)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_CannotTransitionFromTerminalState(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed} {
		job := NewWithID("test")
		job.Status = terminal

		if err := job.Start(); err != ErrInvalidTransition {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", terminal, err)
		}
		if err := job.Fail("x", "rendering", -1); err != ErrInvalidTransition {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", terminal, err)
		}
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusInQueue, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.status

			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := NewWithID("test")
	before := job.UpdatedAt
	time.Sleep(time.Millisecond)

	chunk := 2
	job.UpdateProgress(progress.RenderProgress{
		Phase:          progress.PhaseRendering,
		TotalChunks:    4,
		CurrentChunk:   &chunk,
		OverallPercent: 37,
	})

	if job.Progress.OverallPercent != 37 {
		t.Errorf("expected percent 37, got %d", job.Progress.OverallPercent)
	}
	if !job.UpdatedAt.After(before) {
		t.Error("expected UpdatedAt to advance")
	}

	chunk = 3
	if *job.Progress.CurrentChunk != 2 {
		t.Error("expected snapshot to be copied, not aliased")
	}
}

func TestJob_Clone(t *testing.T) {
	job := New("proj", testComposition())
	_ = job.Start()
	chunk := 1
	job.UpdateProgress(progress.RenderProgress{Phase: progress.PhaseRendering, CurrentChunk: &chunk})

	clone := job.Clone()

	if clone.ID != job.ID || clone.ProjectID != job.ProjectID || clone.Status != job.Status {
		t.Error("expected clone to carry identity and status")
	}
	if clone.Composition != job.Composition {
		t.Error("expected composition to be shared")
	}

	// Mutating the clone must not touch the original
	*clone.Progress.CurrentChunk = 9
	clone.Status = StatusFailed
	if *job.Progress.CurrentChunk != 1 {
		t.Error("expected progress to be deep copied")
	}
	if job.Status != StatusRunning {
		t.Error("expected original status unchanged")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := NewWithID("test")

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.GetStatus()
			_ = job.Clone()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = job.Start()
			job.UpdateProgress(progress.RenderProgress{OverallPercent: i})
		}
		done <- true
	}()

	<-done
	<-done
	// If no race conditions, test passes
}
