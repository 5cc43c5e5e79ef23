package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 2 * time.Second

// RedisReporter stores the latest snapshot of a render in Redis and
// publishes every snapshot on a per-render channel.
type RedisReporter struct {
	client   redis.UniversalClient
	renderID string
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// Compile-time check that RedisReporter implements Reporter.
var _ Reporter = (*RedisReporter)(nil)

// NewRedisReporter returns a reporter for one render.
func NewRedisReporter(client redis.UniversalClient, renderID string, ttl time.Duration, logger *slog.Logger) *RedisReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisReporter{
		client:   client,
		renderID: renderID,
		ttl:      ttl,
		timeout:  defaultRedisTimeout,
		logger:   logger,
	}
}

// SnapshotKey is the key holding the latest snapshot JSON for renderID.
func SnapshotKey(renderID string) string {
	return fmt.Sprintf("render:%s:progress", renderID)
}

// EventsChannel is the pub/sub channel snapshots for renderID are published on.
func EventsChannel(renderID string) string {
	return fmt.Sprintf("render:%s:events", renderID)
}

// Report writes p. Redis failures are logged and never reach the render.
func (r *RedisReporter) Report(p RenderProgress) {
	data, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("marshal progress", "render_id", r.renderID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, SnapshotKey(r.renderID), data, r.ttl)
	pipe.Publish(ctx, EventsChannel(r.renderID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("redis progress write failed", "render_id", r.renderID, "error", err)
	}
}
