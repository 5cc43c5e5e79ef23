package job

import (
	"context"
	"testing"
	"time"

	"github.com/maauso/longrender/internal/progress"
)

func TestMemoryRepository_Save(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("proj", testComposition())

	err := repo.Save(ctx, job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify it was saved
	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, saved.ID)
	}
}

func TestMemoryRepository_Save_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("proj", testComposition())

	// Save initial
	_ = repo.Save(ctx, job)

	// Update job
	_ = job.Start()
	job.UpdateProgress(progress.RenderProgress{Phase: progress.PhaseRendering, OverallPercent: 50})
	_ = repo.Save(ctx, job)

	// Verify update
	saved, _ := repo.FindByID(ctx, job.ID)
	if saved.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, saved.Status)
	}
	if saved.Progress.OverallPercent != 50 {
		t.Errorf("expected progress 50, got %d", saved.Progress.OverallPercent)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "nonexistent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := NewWithID("j1")
	_ = repo.Save(ctx, job)

	found, _ := repo.FindByID(ctx, "j1")
	found.Status = StatusFailed

	again, _ := repo.FindByID(ctx, "j1")
	if again.Status != StatusInQueue {
		t.Errorf("expected stored job to be unaffected, got %s", again.Status)
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		j := NewWithID(id)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_ = repo.Save(ctx, j)
	}

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, want := range []string{"c", "a", "b"} {
		if jobs[i].ID != want {
			t.Errorf("jobs[%d] = %s, want %s (oldest first)", i, jobs[i].ID, want)
		}
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := NewWithID("j1")
	_ = repo.Save(ctx, job)

	if err := repo.Delete(ctx, "j1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.FindByID(ctx, "j1"); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}
}

func TestMemoryRepository_Delete_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	if err := repo.Delete(context.Background(), "missing"); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	done := make(chan bool)

	// Concurrent writes
	go func() {
		for i := 0; i < 100; i++ {
			job := New("proj", nil)
			_ = repo.Save(ctx, job)
		}
		done <- true
	}()

	// Concurrent reads
	go func() {
		for i := 0; i < 100; i++ {
			_, _ = repo.List(ctx)
		}
		done <- true
	}()

	<-done
	<-done
	// If no race conditions, test passes
}
