// Package bootstrap provides dependency initialization for the render service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/longrender/internal/config"
	"github.com/maauso/longrender/internal/fetch"
	"github.com/maauso/longrender/internal/job"
	"github.com/maauso/longrender/internal/media"
	"github.com/maauso/longrender/internal/metrics"
	"github.com/maauso/longrender/internal/orchestrator"
	"github.com/maauso/longrender/internal/progress"
	"github.com/maauso/longrender/internal/render"
	"github.com/maauso/longrender/internal/renderfarm"
	"github.com/maauso/longrender/internal/storage"
)

const redisPingTimeout = 5 * time.Second

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	RenderService *job.RenderService
	Metrics       *metrics.Metrics
	// FilesDir is the local publish directory to serve over HTTP. Empty when
	// videos are published to S3.
	FilesDir string

	closers []func() error
}

// Close releases connections opened by NewDependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Metrics: metrics.New()}

	// Initialize storage
	store, filesDir, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.FilesDir = filesDir

	// Initialize render backend client
	farm, err := renderfarm.NewClient(cfg.RenderAPIURL,
		renderfarm.WithAPIKey(cfg.RenderAPIKey),
		renderfarm.WithSubmitRate(cfg.SubmitRatePerSec, cfg.SubmitBurst),
	)
	if err != nil {
		return nil, fmt.Errorf("create render backend client: %w", err)
	}

	orch := orchestrator.New(cfg.Orchestrator(), orchestrator.Deps{
		Submitter:    render.NewDispatcher(farm, cfg.CompositionID, cfg.RenderCodec, logger),
		Awaiter:      render.NewPoller(farm, logger, render.WithAttemptHook(deps.Metrics.IncPollAttempts)),
		Canceller:    farm,
		Fetcher:      fetch.NewHTTPFetcher(nil, logger),
		Concatenator: media.NewFFmpegConcatenator(cfg.FFmpegPath),
		Publisher:    storage.NewPublisher(store),
		Metrics:      deps.Metrics,
		Logger:       logger,
	})

	factory, err := initReporters(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	deps.RenderService = job.NewRenderService(
		job.NewMemoryRepository(),
		orch,
		logger,
		job.WithReporterFactory(factory),
	)
	return deps, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, string, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(ctx, s3Cfg)
		if err != nil {
			return nil, "", fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, "", nil
	}

	localStore, err := storage.NewLocalStore(cfg.PublishDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("publish_dir", localStore.Root()),
		slog.String("public_base_url", cfg.PublicBaseURL),
	)
	return localStore, localStore.Root(), nil
}

// initReporters returns the per-job progress sink. Progress is always logged
// and also mirrored to Redis when REDIS_URL is set.
func initReporters(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.ReporterFactory, error) {
	logging := func(jobID string) progress.Reporter {
		return progress.NewLoggingReporter(logger, slog.String("job_id", jobID))
	}
	if !cfg.RedisEnabled() {
		return logging, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	deps.closers = append(deps.closers, client.Close)

	logger.Info("redis progress mirror configured",
		slog.String("addr", opts.Addr),
		slog.Duration("ttl", cfg.RedisProgressTTL()),
	)

	ttl := cfg.RedisProgressTTL()
	return func(jobID string) progress.Reporter {
		return progress.Fanout{
			logging(jobID),
			progress.NewRedisReporter(client, jobID, ttl, logger),
		}
	}, nil
}
