package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/longrender/internal/chunk"
	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/orchestrator"
	"github.com/maauso/longrender/internal/progress"
	"github.com/maauso/longrender/internal/render"
)

// mockRenderer is a mock implementation of Renderer.
type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, req orchestrator.Request) orchestrator.Result {
	args := m.Called(ctx, req)
	return args.Get(0).(orchestrator.Result)
}

func TestNewRenderService(t *testing.T) {
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)

	// With nil logger
	svc := NewRenderService(repo, renderer, nil)
	require.NotNil(t, svc)
	assert.Equal(t, repo, svc.repo)
	assert.NotNil(t, svc.logger)
	assert.Nil(t, svc.reporters)

	// With custom logger and reporter factory
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc2 := NewRenderService(repo, renderer, logger, WithReporterFactory(func(string) progress.Reporter { return progress.Nop }))
	assert.Equal(t, logger, svc2.logger)
	assert.NotNil(t, svc2.reporters)
}

func TestRenderService_CreateJob(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewRenderService(repo, new(mockRenderer), nil)
	ctx := context.Background()

	t.Run("valid composition", func(t *testing.T) {
		job, err := svc.CreateJob(ctx, CreateRenderInput{ProjectID: "proj-9", Composition: testComposition()})
		require.NoError(t, err)

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, StatusInQueue, job.Status)
		assert.Equal(t, "proj-9", job.ProjectID)

		saved, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, saved.ID)
	})

	t.Run("project defaults to job id", func(t *testing.T) {
		job, err := svc.CreateJob(ctx, CreateRenderInput{Composition: testComposition()})
		require.NoError(t, err)
		assert.Equal(t, job.ID, job.ProjectID)
	})

	t.Run("no scenes", func(t *testing.T) {
		_, err := svc.CreateJob(ctx, CreateRenderInput{Composition: &composition.Descriptor{FPS: 30}})
		assert.ErrorIs(t, err, composition.ErrNoScenes)

		_, err = svc.CreateJob(ctx, CreateRenderInput{})
		assert.ErrorIs(t, err, composition.ErrNoScenes)
	})

	t.Run("invalid fps", func(t *testing.T) {
		desc := testComposition()
		desc.FPS = 0
		_, err := svc.CreateJob(ctx, CreateRenderInput{Composition: desc})
		assert.ErrorIs(t, err, ErrInvalidComposition)
	})

	t.Run("sub-frame scene", func(t *testing.T) {
		desc := testComposition()
		desc.Scenes[0].DurationSeconds = 0.01
		_, err := svc.CreateJob(ctx, CreateRenderInput{Composition: desc})
		assert.ErrorIs(t, err, ErrInvalidComposition)
		assert.ErrorIs(t, err, composition.ErrSceneTooShort)
	})
}

func TestRenderService_GetJob_NotFound(t *testing.T) {
	svc := NewRenderService(NewMemoryRepository(), new(mockRenderer), nil)

	_, err := svc.GetJob(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRenderService_ProcessExistingJob_Success(t *testing.T) {
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)
	var extra progress.Recorder
	svc := NewRenderService(repo, renderer, nil,
		WithReporterFactory(func(string) progress.Reporter { return &extra }))
	ctx := context.Background()

	created, err := svc.CreateJob(ctx, CreateRenderInput{ProjectID: "proj", Composition: testComposition()})
	require.NoError(t, err)

	renderer.On("Render", mock.Anything, mock.MatchedBy(func(req orchestrator.Request) bool {
		return req.RenderID == created.ID && req.LogicalID == "proj" && req.Composition != nil
	})).Run(func(args mock.Arguments) {
		req := args.Get(1).(orchestrator.Request)

		// The job must already be running when the render starts
		running, _ := repo.FindByID(ctx, created.ID)
		assert.Equal(t, StatusRunning, running.Status)

		req.Reporter.Report(progress.RenderProgress{Phase: progress.PhaseRendering, OverallPercent: 5})
		req.Reporter.Report(progress.RenderProgress{Phase: progress.PhaseComplete, OverallPercent: 100})
	}).Return(orchestrator.Result{Success: true, VideoURL: "https://cdn/out.mp4", Phase: progress.PhaseComplete, ChunkIndex: -1})

	job, err := svc.ProcessExistingJob(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "https://cdn/out.mp4", job.VideoURL)
	assert.Equal(t, 100, job.Progress.OverallPercent)
	assert.Len(t, extra.Events(), 2)

	saved, _ := repo.FindByID(ctx, created.ID)
	assert.Equal(t, StatusCompleted, saved.Status)
	assert.Equal(t, progress.PhaseComplete, saved.Progress.Phase)
	renderer.AssertExpectations(t)
}

func TestRenderService_ProcessExistingJob_Failure(t *testing.T) {
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)
	svc := NewRenderService(repo, renderer, nil)
	ctx := context.Background()

	created, err := svc.CreateJob(ctx, CreateRenderInput{Composition: testComposition()})
	require.NoError(t, err)

	renderer.On("Render", mock.Anything, mock.Anything).Return(orchestrator.Result{
		Error:      "Chunk 2 failed: OOM",
		Phase:      progress.PhaseRendering,
		ChunkIndex: 1,
	})

	job, err := svc.ProcessExistingJob(ctx, created.ID)
	assert.ErrorIs(t, err, ErrRenderFailed)
	assert.Contains(t, err.Error(), "Chunk 2 failed: OOM")

	require.NotNil(t, job)
	assert.Equal(t, StatusFailed, job.Status)

	saved, _ := repo.FindByID(ctx, created.ID)
	assert.Equal(t, StatusFailed, saved.Status)
	assert.Equal(t, "Chunk 2 failed: OOM", saved.Error)
	assert.Equal(t, "rendering", saved.FailedPhase)
	assert.Equal(t, 1, saved.FailedChunk)
	assert.Empty(t, saved.VideoURL)
}

func TestRenderService_ProcessExistingJob_NotFound(t *testing.T) {
	renderer := new(mockRenderer)
	svc := NewRenderService(NewMemoryRepository(), renderer, nil)

	_, err := svc.ProcessExistingJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
}

func TestRenderService_ProcessExistingJob_AlreadyFinished(t *testing.T) {
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)
	svc := NewRenderService(repo, renderer, nil)
	ctx := context.Background()

	j := NewWithID("done")
	_ = j.Start()
	_ = j.Complete("u")
	_ = repo.Save(ctx, j)

	_, err := svc.ProcessExistingJob(ctx, "done")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
}

func TestRenderService_ProcessAsync(t *testing.T) {
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)
	svc := NewRenderService(repo, renderer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	created, err := svc.CreateJob(ctx, CreateRenderInput{Composition: testComposition()})
	require.NoError(t, err)

	renderer.On("Render", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		rctx := args.Get(0).(context.Context)
		assert.NoError(t, rctx.Err(), "render context must not inherit request cancellation")
	}).Return(orchestrator.Result{Success: true, VideoURL: "u", ChunkIndex: -1})

	svc.ProcessAsync(ctx, created.ID)
	cancel()
	svc.Wait()

	saved, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, saved.Status)
}

// stubSubmitter accepts every chunk.
type stubSubmitter struct{}

func (stubSubmitter) Submit(_ context.Context, c chunk.Descriptor, _ *composition.Descriptor) (render.JobHandle, error) {
	return render.JobHandle{ChunkIndex: c.Index, JobID: "remote-job", SubmittedAt: time.Now()}, nil
}

// blockingAwaiter never sees a chunk finish; it returns once ctx ends.
type blockingAwaiter struct {
	started chan struct{}
	once    sync.Once
}

func (a *blockingAwaiter) AwaitCompletion(ctx context.Context, h render.JobHandle, _ time.Duration, _ int) (render.ChunkRenderResult, error) {
	a.once.Do(func() { close(a.started) })
	<-ctx.Done()
	return render.ChunkRenderResult{ChunkIndex: h.ChunkIndex}, ctx.Err()
}

func TestRenderService_ShutdownCancelsBackgroundRenders(t *testing.T) {
	scratch := t.TempDir()
	awaiter := &blockingAwaiter{started: make(chan struct{})}

	cfg := orchestrator.DefaultConfig()
	cfg.ScratchRoot = scratch
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Submitter: stubSubmitter{},
		Awaiter:   awaiter,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	repo := NewMemoryRepository()
	svc := NewRenderService(repo, orch, nil)

	created, err := svc.CreateJob(context.Background(), CreateRenderInput{Composition: testComposition()})
	require.NoError(t, err)

	svc.ProcessAsync(context.Background(), created.ID)

	select {
	case <-awaiter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("render never reached the polling stage")
	}

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	require.Len(t, entries, 1, "render should own a scratch directory while running")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	saved, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, saved.Status)

	entries, err = os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be removed on shutdown")
}

func TestRenderService_ShutdownTimeout(t *testing.T) {
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)
	svc := NewRenderService(repo, renderer, nil)

	created, err := svc.CreateJob(context.Background(), CreateRenderInput{Composition: testComposition()})
	require.NoError(t, err)

	release := make(chan struct{})
	renderer.On("Render", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(orchestrator.Result{Error: "stopped", ChunkIndex: -1})

	svc.ProcessAsync(context.Background(), created.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	svc.Wait()
}

func TestRenderService_WithBaseContext(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	repo := NewMemoryRepository()
	renderer := new(mockRenderer)
	svc := NewRenderService(repo, renderer, nil, WithBaseContext(base))

	created, err := svc.CreateJob(context.Background(), CreateRenderInput{Composition: testComposition()})
	require.NoError(t, err)

	renderer.On("Render", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(orchestrator.Result{Error: "cancelled", ChunkIndex: -1})

	svc.ProcessAsync(context.Background(), created.ID)
	cancelBase()
	svc.Wait()

	saved, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, saved.Status)
	assert.Equal(t, "cancelled", saved.Error)
}

func TestRenderService_DeleteJob(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewRenderService(repo, new(mockRenderer), nil)
	ctx := context.Background()

	active := NewWithID("active")
	_ = repo.Save(ctx, active)
	assert.True(t, errors.Is(svc.DeleteJob(ctx, "active"), ErrJobActive))

	finished := NewWithID("finished")
	_ = finished.Start()
	_ = finished.Fail("boom", "uploading", -1)
	_ = repo.Save(ctx, finished)
	require.NoError(t, svc.DeleteJob(ctx, "finished"))

	_, err := repo.FindByID(ctx, "finished")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.ErrorIs(t, svc.DeleteJob(ctx, "missing"), ErrJobNotFound)

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
