package orchestrator

import (
	"slices"
	"sync"

	"github.com/maauso/longrender/internal/progress"
	"github.com/maauso/longrender/internal/render"
)

// emitter builds progress snapshots and delivers them one at a time, in
// the order they were produced. Percent never decreases.
type emitter struct {
	mu        sync.Mutex
	reporter  progress.Reporter
	phase     progress.Phase
	total     int
	completed int
	percent   int
}

func newEmitter(r progress.Reporter) *emitter {
	if r == nil {
		r = progress.Nop
	}
	return &emitter{reporter: r}
}

func (e *emitter) setTotal(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = n
}

func (e *emitter) totalChunks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// chunkDone records one more rendered chunk and returns the new count.
func (e *emitter) chunkDone() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed++
	return e.completed
}

func (e *emitter) emit(phase progress.Phase, percent int, current *int, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = phase
	e.percent = max(e.percent, percent)
	e.reporter.Report(e.snapshot(current, msg, ""))
}

// fail emits the terminal error snapshot, keeping the last percent.
func (e *emitter) fail(errMsg string, chunkIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = progress.PhaseError
	var current *int
	if chunkIndex >= 0 {
		current = &chunkIndex
	}
	e.reporter.Report(e.snapshot(current, "Render failed", errMsg))
}

func (e *emitter) snapshot(current *int, msg, errMsg string) progress.RenderProgress {
	p := progress.RenderProgress{
		Phase:           e.phase,
		TotalChunks:     e.total,
		CompletedChunks: e.completed,
		OverallPercent:  e.percent,
		Message:         msg,
		Error:           errMsg,
	}
	if current != nil {
		c := *current
		p.CurrentChunk = &c
	}
	return p
}

// inflight tracks submitted jobs that have not reached a terminal state.
type inflight struct {
	mu   sync.Mutex
	jobs map[int]render.JobHandle
}

func newInflight() *inflight {
	return &inflight{jobs: make(map[int]render.JobHandle)}
}

func (f *inflight) add(h render.JobHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[h.ChunkIndex] = h
}

func (f *inflight) remove(chunkIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, chunkIndex)
}

// drain returns the remaining handles ordered by chunk index and empties
// the set.
func (f *inflight) drain() []render.JobHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]render.JobHandle, 0, len(f.jobs))
	for _, h := range f.jobs {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b render.JobHandle) int { return a.ChunkIndex - b.ChunkIndex })
	f.jobs = make(map[int]render.JobHandle)
	return out
}
