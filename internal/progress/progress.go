// Package progress defines render progress snapshots and the sinks that
// receive them.
package progress

import (
	"log/slog"
	"sync"
)

// Phase is a step of the render state machine.
type Phase string

// Render phases, in pipeline order. PhaseError is terminal and reachable
// from any non-terminal phase.
const (
	PhasePreparing     Phase = "preparing"
	PhaseRendering     Phase = "rendering"
	PhaseDownloading   Phase = "downloading"
	PhaseConcatenating Phase = "concatenating"
	PhaseUploading     Phase = "uploading"
	PhaseComplete      Phase = "complete"
	PhaseError         Phase = "error"
)

// Overall percent anchors for each phase.
const (
	PercentPreparing      = 0
	PercentRenderingStart = 5
	PercentRenderingEnd   = 70
	PercentDownloadingEnd = 80
	PercentConcatenating  = 85
	PercentUploading      = 90
	PercentComplete       = 100
)

// IsTerminal reports whether p ends a render.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// RenderProgress is an immutable snapshot of one render's progress.
type RenderProgress struct {
	Phase           Phase  `json:"phase"`
	TotalChunks     int    `json:"total_chunks"`
	CompletedChunks int    `json:"completed_chunks"`
	CurrentChunk    *int   `json:"current_chunk,omitempty"`
	OverallPercent  int    `json:"overall_percent"`
	Message         string `json:"message"`
	Error           string `json:"error,omitempty"`
}

// RenderingPercent maps completed chunks onto the rendering band.
func RenderingPercent(completed, total int) int {
	return band(PercentRenderingStart, PercentRenderingEnd, completed, total)
}

// DownloadingPercent maps fetched chunks onto the downloading band.
func DownloadingPercent(fetched, total int) int {
	return band(PercentRenderingEnd, PercentDownloadingEnd, fetched, total)
}

func band(lo, hi, done, total int) int {
	if total <= 0 {
		return lo
	}
	done = min(max(done, 0), total)
	return lo + (hi-lo)*done/total
}

// Reporter receives progress snapshots. Report is called synchronously on
// the render's execution path and must not block for long.
type Reporter interface {
	Report(p RenderProgress)
}

// Func adapts a plain function to the Reporter interface.
type Func func(RenderProgress)

// Report calls f(p).
func (f Func) Report(p RenderProgress) {
	f(p)
}

// Nop discards all snapshots.
var Nop Reporter = Func(func(RenderProgress) {})

// Fanout forwards each snapshot to every non-nil reporter, in order.
type Fanout []Reporter

// Report forwards p to each reporter.
func (f Fanout) Report(p RenderProgress) {
	for _, r := range f {
		if r != nil {
			r.Report(p)
		}
	}
}

// LoggingReporter writes each snapshot to a structured logger.
type LoggingReporter struct {
	logger *slog.Logger
	attrs  []any
}

// NewLoggingReporter returns a LoggingReporter. attrs are attached to every
// log line, typically the render id.
func NewLoggingReporter(logger *slog.Logger, attrs ...any) *LoggingReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingReporter{logger: logger, attrs: attrs}
}

// Report logs p at info level, or at error level for the error phase.
func (r *LoggingReporter) Report(p RenderProgress) {
	args := append([]any{}, r.attrs...)
	args = append(args,
		"phase", p.Phase,
		"percent", p.OverallPercent,
		"completed_chunks", p.CompletedChunks,
		"total_chunks", p.TotalChunks,
	)
	if p.CurrentChunk != nil {
		args = append(args, "current_chunk", *p.CurrentChunk)
	}
	if p.Phase == PhaseError {
		r.logger.Error(p.Message, append(args, "error", p.Error)...)
		return
	}
	r.logger.Info(p.Message, args...)
}

// Recorder keeps every snapshot it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []RenderProgress
}

// Report appends p.
func (r *Recorder) Report(p RenderProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

// Events returns a copy of the recorded snapshots.
func (r *Recorder) Events() []RenderProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RenderProgress, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent snapshot and whether one exists.
func (r *Recorder) Last() (RenderProgress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return RenderProgress{}, false
	}
	return r.events[len(r.events)-1], true
}

// Compile-time interface checks.
var (
	_ Reporter = Func(nil)
	_ Reporter = Fanout(nil)
	_ Reporter = (*LoggingReporter)(nil)
	_ Reporter = (*Recorder)(nil)
)
