package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/longrender/internal/renderfarm"
)

// ChunkRenderResult is the terminal outcome of one chunk.
type ChunkRenderResult struct {
	ChunkIndex   int
	Success      bool
	ArtifactURL  string
	ErrorMessage string
	RenderTimeMs int64
}

// Poller waits for submitted jobs to finish.
type Poller struct {
	client    renderfarm.Client
	logger    *slog.Logger
	onAttempt func()
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithAttemptHook registers a callback invoked once per poll attempt.
func WithAttemptHook(fn func()) PollerOption {
	return func(p *Poller) {
		p.onAttempt = fn
	}
}

// NewPoller creates a Poller backed by the given client.
func NewPoller(client renderfarm.Client, logger *slog.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{client: client, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitCompletion polls the job until it reports done, fails, or maxAttempts
// attempts have been made. Each attempt is a single status request, so the
// wait is bounded by roughly interval*maxAttempts. Transient status errors are
// logged and retried on the next interval. Running out of attempts is a failure.
//
// A job that reports done without an output file is treated as failed.
// Context cancellation is checked between attempts.
func (p *Poller) AwaitCompletion(ctx context.Context, h JobHandle, interval time.Duration, maxAttempts int) (ChunkRenderResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := ChunkRenderResult{ChunkIndex: h.ChunkIndex}
	log := p.logger.With(
		slog.Int("chunk_index", h.ChunkIndex),
		slog.String("job_id", h.JobID),
	)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, fmt.Errorf("chunk %d: polling cancelled: %w", h.ChunkIndex+1, ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("chunk %d: polling cancelled: %w", h.ChunkIndex+1, err)
		}

		status, err := p.client.Status(ctx, h.JobID, h.ResultLocationHint)
		if p.onAttempt != nil {
			p.onAttempt()
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("chunk %d: polling cancelled: %w", h.ChunkIndex+1, ctx.Err())
			}
			lastErr = err
			log.Debug("status check failed, will retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !status.Done {
			log.Debug("chunk still rendering",
				slog.Int("attempt", attempt),
				slog.Float64("progress", status.OverallProgress),
			)
			continue
		}

		if !h.SubmittedAt.IsZero() {
			result.RenderTimeMs = time.Since(h.SubmittedAt).Milliseconds()
		}

		if status.OutputFile != "" {
			result.Success = true
			result.ArtifactURL = status.OutputFile
			log.Info("chunk rendered",
				slog.Int("attempts", attempt),
				slog.Int64("render_time_ms", result.RenderTimeMs),
			)
			return result, nil
		}

		msg := joinErrors(status.Errors)
		if msg == "" {
			msg = "render finished without an output file"
		}
		result.ErrorMessage = msg
		return result, &ChunkRenderError{ChunkIndex: h.ChunkIndex, JobID: h.JobID, Message: msg}
	}

	timeout := &PollTimeoutError{
		ChunkIndex: h.ChunkIndex,
		JobID:      h.JobID,
		Attempts:   maxAttempts,
		LastErr:    lastErr,
	}
	result.ErrorMessage = timeout.Error()
	return result, timeout
}
