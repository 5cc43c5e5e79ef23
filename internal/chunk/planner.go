// Package chunk partitions a composition into independently renderable chunks.
package chunk

import (
	"github.com/maauso/longrender/internal/composition"
)

// epsilon absorbs float accumulation error when comparing against the limit.
const epsilon = 1e-9

// Descriptor is one contiguous slice of the composition, rendered as a single
// remote job. Frames are global: StartFrame is inclusive, EndFrame exclusive.
type Descriptor struct {
	Index      int
	StartFrame int
	EndFrame   int
	Scenes     []composition.SceneRef
}

// FrameCount returns the number of frames in the chunk.
func (d Descriptor) FrameCount() int {
	return d.EndFrame - d.StartFrame
}

// DurationSeconds returns the summed duration of the chunk's scenes.
func (d Descriptor) DurationSeconds() float64 {
	var total float64
	for _, s := range d.Scenes {
		total += s.DurationSeconds
	}
	return total
}

// Plan greedily groups scenes into chunks of at most maxChunkSeconds.
//
// A scene is never split: a chunk holding a single scene longer than the
// limit is allowed. Frame boundaries are round(cumulativeSeconds * fps), so
// adjacent chunks share a boundary and the last chunk ends at the total frame
// count. An empty scene list yields an empty plan. A non-positive limit puts
// every scene into one chunk.
//
// Scenes are expected to span at least one frame, as enforced by
// composition.Descriptor.Validate; otherwise a chunk may be zero frames wide.
func Plan(scenes []composition.SceneRef, fps int, maxChunkSeconds float64) []Descriptor {
	if len(scenes) == 0 {
		return nil
	}

	var (
		groups  [][]composition.SceneRef
		current []composition.SceneRef
		acc     float64
	)
	for _, s := range scenes {
		if len(current) > 0 && maxChunkSeconds > 0 && acc+s.DurationSeconds > maxChunkSeconds+epsilon {
			groups = append(groups, current)
			current = nil
			acc = 0
		}
		current = append(current, s)
		acc += s.DurationSeconds
	}
	groups = append(groups, current)

	chunks := make([]Descriptor, 0, len(groups))
	var cumulative float64
	start := 0
	for i, g := range groups {
		for _, s := range g {
			cumulative += s.DurationSeconds
		}
		end := composition.FrameAt(cumulative, fps)
		chunks = append(chunks, Descriptor{
			Index:      i,
			StartFrame: start,
			EndFrame:   end,
			Scenes:     g,
		})
		start = end
	}
	return chunks
}
