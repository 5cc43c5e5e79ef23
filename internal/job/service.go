package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/orchestrator"
	"github.com/maauso/longrender/internal/progress"
)

var (
	// ErrRenderFailed wraps the error message of a render that ended in error.
	ErrRenderFailed = errors.New("render failed")
	// ErrInvalidComposition wraps a composition that failed validation.
	ErrInvalidComposition = errors.New("invalid composition")
)

// Renderer runs one render to completion.
type Renderer interface {
	Render(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

// ReporterFactory builds an additional progress sink for a job.
type ReporterFactory func(jobID string) progress.Reporter

// CreateRenderInput contains the input parameters of a render job.
type CreateRenderInput struct {
	// ProjectID is the caller's logical project id. Defaults to the job id.
	ProjectID   string
	Composition *composition.Descriptor
}

// RenderService creates render jobs and runs them through a Renderer.
// Job state is the only thing it persists; progress is written to the
// repository as the orchestrator reports it.
type RenderService struct {
	repo      Repository
	renderer  Renderer
	logger    *slog.Logger
	reporters ReporterFactory
	wg        sync.WaitGroup

	// baseCtx bounds every background render; cancel aborts them.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// ServiceOption configures a RenderService.
type ServiceOption func(*RenderService)

// WithReporterFactory adds a per-job progress sink next to the repository.
func WithReporterFactory(f ReporterFactory) ServiceOption {
	return func(s *RenderService) {
		s.reporters = f
	}
}

// WithBaseContext sets the parent of every background render. Cancelling it
// has the same effect as Shutdown.
func WithBaseContext(ctx context.Context) ServiceOption {
	return func(s *RenderService) {
		s.baseCtx = ctx
	}
}

// NewRenderService creates a new RenderService.
func NewRenderService(repo Repository, renderer Renderer, logger *slog.Logger, opts ...ServiceOption) *RenderService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RenderService{
		repo:     repo,
		renderer: renderer,
		logger:   logger,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(s.baseCtx)
	return s
}

// CreateJob validates the composition and persists a new IN_QUEUE job.
func (s *RenderService) CreateJob(ctx context.Context, input CreateRenderInput) (*Job, error) {
	if input.Composition == nil {
		return nil, composition.ErrNoScenes
	}
	if err := input.Composition.Validate(); err != nil {
		if errors.Is(err, composition.ErrNoScenes) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidComposition, err)
	}

	job := New(input.ProjectID, input.Composition)
	if job.ProjectID == "" {
		job.ProjectID = job.ID
	}

	s.logger.Info("creating render job",
		slog.String("job_id", job.ID),
		slog.String("project_id", job.ProjectID),
		slog.Int("scenes", len(input.Composition.Scenes)),
		slog.Float64("duration_seconds", input.Composition.TotalDurationSeconds()),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job.Clone(), nil
}

// GetJob retrieves a job by ID.
func (s *RenderService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs.
func (s *RenderService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a finished job. Returns ErrJobActive while it is still
// queued or running.
func (s *RenderService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobActive
	}
	return s.repo.Delete(ctx, id)
}

// ProcessExistingJob renders a previously created job and records the
// outcome. It returns the final job state; a failed render also returns an
// error wrapping ErrRenderFailed.
func (s *RenderService) ProcessExistingJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", id, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	log := s.logger.With(slog.String("job_id", job.ID))

	sink := progress.Fanout{progress.Func(func(p progress.RenderProgress) {
		job.UpdateProgress(p)
		if err := s.repo.Save(ctx, job); err != nil {
			log.Warn("failed to persist progress", slog.String("error", err.Error()))
		}
	})}
	if s.reporters != nil {
		sink = append(sink, s.reporters(job.ID))
	}

	res := s.renderer.Render(ctx, orchestrator.Request{
		RenderID:    job.ID,
		LogicalID:   job.ProjectID,
		Composition: job.Composition,
		Reporter:    sink,
	})

	if res.Success {
		err = job.Complete(res.VideoURL)
	} else {
		err = job.Fail(res.Error, string(res.Phase), res.ChunkIndex)
	}
	if err != nil {
		return nil, fmt.Errorf("finish job %s: %w", id, err)
	}
	// The outcome is recorded even when ctx was cancelled mid-render.
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		return nil, err
	}

	if !res.Success {
		return job.Clone(), fmt.Errorf("%w: %s", ErrRenderFailed, res.Error)
	}
	return job.Clone(), nil
}

// ProcessAsync runs ProcessExistingJob in the background. The render keeps
// ctx's values but not its cancellation; it is cancelled only by Shutdown or
// by the service's base context. Use Wait to block until all background
// renders finish.
func (s *RenderService) ProcessAsync(ctx context.Context, id string) {
	rctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	unlink := context.AfterFunc(s.baseCtx, stop)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		defer unlink()
		if _, err := s.ProcessExistingJob(rctx, id); err != nil {
			s.logger.Error("background render failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every render started with ProcessAsync has returned.
func (s *RenderService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every background render and waits for them to return,
// which includes removing their scratch directories. Renders started after
// Shutdown fail immediately. It returns ctx.Err() if ctx ends first.
func (s *RenderService) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
