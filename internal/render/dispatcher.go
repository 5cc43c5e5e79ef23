// Package render submits chunk render jobs to the remote backend and waits
// for them to reach a terminal state.
package render

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/maauso/longrender/internal/chunk"
	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/renderfarm"
)

// Keys the dispatcher sets on every chunk's input props. They override any
// global parameter of the same name.
const (
	PropScenes           = "scenes"
	PropFPS              = "fps"
	PropDurationInFrames = "durationInFrames"
	PropWidth            = "width"
	PropHeight           = "height"
	PropChunkIndex       = "chunkIndex"
)

// JobHandle identifies a submitted chunk render.
type JobHandle struct {
	ChunkIndex int
	JobID      string
	// ResultLocationHint is passed back to the backend when polling.
	ResultLocationHint string
	SubmittedAt        time.Time
}

// Dispatcher submits one remote render per chunk.
type Dispatcher struct {
	client        renderfarm.Client
	compositionID string
	codec         string
	logger        *slog.Logger
}

// NewDispatcher creates a Dispatcher for the given backend composition.
func NewDispatcher(client renderfarm.Client, compositionID, codec string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:        client,
		compositionID: compositionID,
		codec:         codec,
		logger:        logger,
	}
}

// Submit dispatches a chunk. The backend sees only the chunk's own scenes,
// with frames counted from local frame 0.
func (d *Dispatcher) Submit(ctx context.Context, c chunk.Descriptor, desc *composition.Descriptor) (JobHandle, error) {
	req := renderfarm.SubmitRequest{
		CompositionID: d.compositionID,
		InputProps:    ChunkInputProps(c, desc),
		Codec:         d.codec,
	}

	resp, err := d.client.Submit(ctx, req)
	if err != nil {
		return JobHandle{}, &DispatchError{ChunkIndex: c.Index, Err: err}
	}

	d.logger.Info("chunk submitted",
		slog.Int("chunk_index", c.Index),
		slog.String("job_id", resp.RenderID),
		slog.Int("start_frame", c.StartFrame),
		slog.Int("end_frame", c.EndFrame),
		slog.Int("scenes", len(c.Scenes)),
	)

	return JobHandle{
		ChunkIndex:         c.Index,
		JobID:              resp.RenderID,
		ResultLocationHint: resp.BucketName,
		SubmittedAt:        time.Now(),
	}, nil
}

// ChunkInputProps builds the submission payload for one chunk: a copy of the
// global parameters with the scene list replaced by the chunk's scenes.
// The descriptor's own map is never modified.
func ChunkInputProps(c chunk.Descriptor, desc *composition.Descriptor) map[string]any {
	props := maps.Clone(desc.GlobalParams)
	if props == nil {
		props = make(map[string]any, 6)
	}

	scenes := make([]composition.SceneRef, len(c.Scenes))
	copy(scenes, c.Scenes)

	props[PropScenes] = scenes
	props[PropFPS] = desc.FPS
	props[PropDurationInFrames] = c.FrameCount()
	props[PropChunkIndex] = c.Index
	if desc.Width > 0 && desc.Height > 0 {
		props[PropWidth] = desc.Width
		props[PropHeight] = desc.Height
	}
	return props
}
