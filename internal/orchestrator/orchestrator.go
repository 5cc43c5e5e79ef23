// Package orchestrator turns a composition into one published video by
// rendering it in chunks on a remote backend and stitching the results.
//
// A render moves through preparing, rendering, downloading, concatenating,
// uploading and complete. Any failure ends it in the error phase. Every
// render owns a private scratch directory that is removed before Render
// returns, whatever the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/longrender/internal/chunk"
	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/fetch"
	"github.com/maauso/longrender/internal/media"
	"github.com/maauso/longrender/internal/metrics"
	"github.com/maauso/longrender/internal/progress"
	"github.com/maauso/longrender/internal/render"
)

// FinalFileName is the name of the merged video inside the scratch directory.
const FinalFileName = "final.mp4"

// MsgNoScenes is the result error for a composition without scenes.
const MsgNoScenes = "No scenes to render"

// Submitter dispatches one chunk to the remote renderer.
type Submitter interface {
	Submit(ctx context.Context, c chunk.Descriptor, desc *composition.Descriptor) (render.JobHandle, error)
}

// Awaiter waits for a submitted chunk to reach a terminal state.
type Awaiter interface {
	AwaitCompletion(ctx context.Context, h render.JobHandle, interval time.Duration, maxAttempts int) (render.ChunkRenderResult, error)
}

// Canceller asks the remote renderer to stop a job.
type Canceller interface {
	Cancel(ctx context.Context, jobID, locationHint string) error
}

// Publisher uploads the final video and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, localPath, logicalID string) (string, error)
}

// Config holds the tuning parameters of a render.
type Config struct {
	// MaxChunkSeconds is the target upper bound on one chunk's duration.
	MaxChunkSeconds float64
	// ChunkConcurrency is the number of chunks rendered at once. 1 renders
	// chunks strictly one after another.
	ChunkConcurrency int
	// FetchConcurrency is the number of chunk downloads run at once.
	FetchConcurrency int
	PollInterval     time.Duration
	PollMaxAttempts  int
	// ScratchRoot is the parent of every per-render scratch directory.
	ScratchRoot string
	// CancelTimeout bounds each best-effort remote cancel request.
	CancelTimeout time.Duration
}

// DefaultConfig returns the sequential, conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkSeconds:  120,
		ChunkConcurrency: 1,
		FetchConcurrency: 1,
		PollInterval:     5 * time.Second,
		PollMaxAttempts:  240,
		ScratchRoot:      filepath.Join(os.TempDir(), "longrender"),
		CancelTimeout:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxChunkSeconds <= 0 {
		c.MaxChunkSeconds = def.MaxChunkSeconds
	}
	if c.ChunkConcurrency < 1 {
		c.ChunkConcurrency = 1
	}
	if c.FetchConcurrency < 1 {
		c.FetchConcurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollMaxAttempts < 1 {
		c.PollMaxAttempts = def.PollMaxAttempts
	}
	if c.ScratchRoot == "" {
		c.ScratchRoot = def.ScratchRoot
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = def.CancelTimeout
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Canceller, Metrics and
// Logger are optional.
type Deps struct {
	Submitter    Submitter
	Awaiter      Awaiter
	Canceller    Canceller
	Fetcher      fetch.Fetcher
	Concatenator media.Concatenator
	Publisher    Publisher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Orchestrator runs chunked renders. It is safe for concurrent use; each
// Render call is independent.
type Orchestrator struct {
	cfg          Config
	submitter    Submitter
	awaiter      Awaiter
	canceller    Canceller
	fetcher      fetch.Fetcher
	concatenator media.Concatenator
	publisher    Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:          cfg.withDefaults(),
		submitter:    deps.Submitter,
		awaiter:      deps.Awaiter,
		canceller:    deps.Canceller,
		fetcher:      deps.Fetcher,
		concatenator: deps.Concatenator,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		logger:       logger,
	}
}

// Request describes one render invocation.
type Request struct {
	// RenderID is unique per invocation and keys the scratch directory.
	RenderID string
	// LogicalID names the project the video belongs to; it becomes part of
	// the published object key.
	LogicalID   string
	Composition *composition.Descriptor
	// Reporter receives progress snapshots. May be nil.
	Reporter progress.Reporter
}

// Result is the outcome of a render. On failure Phase names the phase that
// failed and ChunkIndex the chunk responsible, or -1 if none is.
type Result struct {
	Success     bool
	VideoURL    string
	Error       string
	Phase       progress.Phase
	ChunkIndex  int
	TotalChunks int
	Err         error
}

// Render runs the whole pipeline for req. It never returns a partially
// published video: VideoURL is set only when Success is true.
func (o *Orchestrator) Render(ctx context.Context, req Request) (res Result) {
	log := o.logger.With(
		slog.String("render_id", req.RenderID),
		slog.String("logical_id", req.LogicalID),
	)
	em := newEmitter(req.Reporter)
	started := time.Now()

	o.metrics.RenderStarted()
	defer func() {
		o.metrics.RenderFinished(res.Success, string(res.Phase))
		if res.Success {
			log.Info("render complete",
				slog.String("video_url", res.VideoURL),
				slog.Int("chunks", res.TotalChunks),
				slog.Duration("elapsed", time.Since(started)),
			)
			return
		}
		log.Error("render failed",
			slog.String("phase", string(res.Phase)),
			slog.Int("chunk_index", res.ChunkIndex),
			slog.String("error", res.Error),
		)
	}()

	em.emit(progress.PhasePreparing, progress.PercentPreparing, nil, "Planning chunks")

	desc := req.Composition
	if desc == nil || len(desc.Scenes) == 0 {
		return o.fail(em, progress.PhasePreparing, -1, MsgNoScenes, composition.ErrNoScenes)
	}
	if err := desc.Validate(); err != nil {
		return o.fail(em, progress.PhasePreparing, -1, "Invalid composition: "+err.Error(), err)
	}

	chunks := chunk.Plan(desc.Scenes, desc.FPS, o.cfg.MaxChunkSeconds)
	if len(chunks) == 0 {
		return o.fail(em, progress.PhasePreparing, -1, MsgNoScenes, composition.ErrNoScenes)
	}
	em.setTotal(len(chunks))

	scratch, err := o.makeScratch(req.RenderID)
	if err != nil {
		return o.fail(em, progress.PhasePreparing, -1, "Failed to create scratch workspace: "+err.Error(), err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("failed to remove scratch directory",
				slog.String("path", scratch),
				slog.String("error", err.Error()),
			)
		}
	}()

	log.Info("render planned",
		slog.Int("chunks", len(chunks)),
		slog.Int("scenes", len(desc.Scenes)),
		slog.Int("total_frames", desc.TotalFrames()),
		slog.Int("concurrency", o.cfg.ChunkConcurrency),
	)

	// Rendering
	em.emit(progress.PhaseRendering, progress.PercentRenderingStart, nil,
		fmt.Sprintf("Rendering %d chunks", len(chunks)))
	results, err := o.renderChunks(ctx, log, chunks, desc, em)
	if err != nil {
		return o.failWith(em, progress.PhaseRendering, err)
	}

	// Downloading
	em.emit(progress.PhaseDownloading, progress.PercentRenderingEnd, nil, "Downloading chunks")
	paths, err := o.fetchChunks(ctx, results, scratch, em)
	if err != nil {
		return o.failWith(em, progress.PhaseDownloading, err)
	}

	// Concatenating
	em.emit(progress.PhaseConcatenating, progress.PercentConcatenating, nil,
		fmt.Sprintf("Merging %d chunks", len(paths)))
	output := filepath.Join(scratch, FinalFileName)
	if err := o.concatenator.Concatenate(ctx, paths, output); err != nil {
		return o.failWith(em, progress.PhaseConcatenating, err)
	}

	// Uploading
	em.emit(progress.PhaseUploading, progress.PercentUploading, nil, "Uploading video")
	url, err := o.publisher.Publish(ctx, output, req.LogicalID)
	if err != nil {
		return o.failWith(em, progress.PhaseUploading, err)
	}

	em.emit(progress.PhaseComplete, progress.PercentComplete, nil, "Render complete")
	return Result{
		Success:     true,
		VideoURL:    url,
		Phase:       progress.PhaseComplete,
		ChunkIndex:  -1,
		TotalChunks: len(chunks),
	}
}

// renderChunks renders every chunk on a bounded pool. results is indexed by
// chunk index. The first failure cancels the rest; jobs still running
// remotely at that point get a best-effort cancel request.
func (o *Orchestrator) renderChunks(
	ctx context.Context,
	log *slog.Logger,
	chunks []chunk.Descriptor,
	desc *composition.Descriptor,
	em *emitter,
) ([]render.ChunkRenderResult, error) {
	results := make([]render.ChunkRenderResult, len(chunks))
	inflight := newInflight()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ChunkConcurrency)

	for _, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			h, err := o.submitter.Submit(gctx, c, desc)
			if err != nil {
				return err
			}
			inflight.add(h)

			res, err := o.awaiter.AwaitCompletion(gctx, h, o.cfg.PollInterval, o.cfg.PollMaxAttempts)
			if isTerminal(err) {
				o.metrics.ChunkFinished(err == nil, time.Since(h.SubmittedAt))
			}
			if err != nil {
				var cre *render.ChunkRenderError
				if errors.As(err, &cre) {
					inflight.remove(h.ChunkIndex)
				}
				return err
			}
			inflight.remove(h.ChunkIndex)

			results[c.Index] = res
			done := em.chunkDone()
			idx := c.Index
			em.emit(progress.PhaseRendering, progress.RenderingPercent(done, len(chunks)), &idx,
				fmt.Sprintf("Rendered chunk %d of %d", idx+1, len(chunks)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.cancelInflight(ctx, log, inflight.drain())
		return nil, err
	}
	return results, nil
}

// fetchChunks downloads every artifact into scratch. paths is in chunk order
// regardless of download completion order.
func (o *Orchestrator) fetchChunks(ctx context.Context, results []render.ChunkRenderResult, scratch string, em *emitter) ([]string, error) {
	paths := make([]string, len(results))

	var (
		mu      sync.Mutex
		fetched int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FetchConcurrency)

	for i, r := range results {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := o.fetcher.Fetch(gctx, r.ArtifactURL, i, scratch)
			if err != nil {
				return err
			}
			paths[i] = p

			mu.Lock()
			fetched++
			n := fetched
			mu.Unlock()

			idx := i
			em.emit(progress.PhaseDownloading, progress.DownloadingPercent(n, len(results)), &idx,
				fmt.Sprintf("Downloaded chunk %d of %d", idx+1, len(results)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// cancelInflight asks the backend to stop each abandoned job. Failures are
// logged only.
func (o *Orchestrator) cancelInflight(ctx context.Context, log *slog.Logger, handles []render.JobHandle) {
	if o.canceller == nil || len(handles) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, h := range handles {
		cctx, cancel := context.WithTimeout(base, o.cfg.CancelTimeout)
		err := o.canceller.Cancel(cctx, h.JobID, h.ResultLocationHint)
		cancel()
		if err != nil {
			log.Warn("failed to cancel abandoned chunk job",
				slog.Int("chunk_index", h.ChunkIndex),
				slog.String("job_id", h.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		log.Info("cancelled abandoned chunk job",
			slog.Int("chunk_index", h.ChunkIndex),
			slog.String("job_id", h.JobID),
		)
	}
}

func (o *Orchestrator) makeScratch(renderID string) (string, error) {
	if err := os.MkdirAll(o.cfg.ScratchRoot, 0o750); err != nil {
		return "", fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(o.cfg.ScratchRoot, "render-"+safeName(renderID)+"-*")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

// failWith builds a failure result from a pipeline error.
func (o *Orchestrator) failWith(em *emitter, phase progress.Phase, err error) Result {
	idx := chunkIndexOf(err)
	msg := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if idx < 0 {
			msg = "Render cancelled: " + msg
		}
	}
	return o.fail(em, phase, idx, msg, err)
}

func (o *Orchestrator) fail(em *emitter, phase progress.Phase, chunkIndex int, msg string, err error) Result {
	em.fail(msg, chunkIndex)
	return Result{
		Success:     false,
		Error:       msg,
		Phase:       phase,
		ChunkIndex:  chunkIndex,
		TotalChunks: em.totalChunks(),
		Err:         err,
	}
}

// isTerminal reports whether a poll error is the chunk's own outcome rather
// than an interruption.
func isTerminal(err error) bool {
	if err == nil {
		return true
	}
	var cre *render.ChunkRenderError
	var pte *render.PollTimeoutError
	return errors.As(err, &cre) || errors.As(err, &pte)
}

// chunkIndexOf extracts the chunk an error is attributed to, or -1.
func chunkIndexOf(err error) int {
	var (
		de  *render.DispatchError
		pte *render.PollTimeoutError
		cre *render.ChunkRenderError
		fe  *fetch.FetchError
	)
	switch {
	case errors.As(err, &de):
		return de.ChunkIndex
	case errors.As(err, &pte):
		return pte.ChunkIndex
	case errors.As(err, &cre):
		return cre.ChunkIndex
	case errors.As(err, &fe):
		return fe.ChunkIndex
	default:
		return -1
	}
}

func safeName(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}
