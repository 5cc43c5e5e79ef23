package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/fetch"
	"github.com/maauso/longrender/internal/metrics"
	"github.com/maauso/longrender/internal/render"
	"github.com/maauso/longrender/internal/renderfarm"
)

// fakeFarm is a scripted render backend. Each chunk's job id is "job-<index>".
type fakeFarm struct {
	mu           sync.Mutex
	artifactBase string
	pendingPolls map[int]int
	failures     map[int]string
	submitErrs   map[int]error
	neverDone    map[int]bool

	submitted []int
	completed []int
	cancelled []string
	polls     map[int]int
}

var _ renderfarm.Client = (*fakeFarm)(nil)

func newFakeFarm(artifactBase string) *fakeFarm {
	return &fakeFarm{
		artifactBase: artifactBase,
		pendingPolls: map[int]int{},
		failures:     map[int]string{},
		submitErrs:   map[int]error{},
		neverDone:    map[int]bool{},
		polls:        map[int]int{},
	}
}

func (f *fakeFarm) Submit(_ context.Context, req renderfarm.SubmitRequest) (renderfarm.SubmitResponse, error) {
	idx := req.InputProps[render.PropChunkIndex].(int)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, idx)
	if err := f.submitErrs[idx]; err != nil {
		return renderfarm.SubmitResponse{}, err
	}
	return renderfarm.SubmitResponse{RenderID: fmt.Sprintf("job-%d", idx), BucketName: "bucket"}, nil
}

func (f *fakeFarm) Status(_ context.Context, renderID, _ string) (renderfarm.StatusResponse, error) {
	var idx int
	if _, err := fmt.Sscanf(renderID, "job-%d", &idx); err != nil {
		return renderfarm.StatusResponse{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[idx]++
	if f.neverDone[idx] || f.polls[idx] <= f.pendingPolls[idx] {
		return renderfarm.StatusResponse{OverallProgress: 0.5}, nil
	}
	f.completed = append(f.completed, idx)
	if msg, ok := f.failures[idx]; ok {
		return renderfarm.StatusResponse{Done: true, Errors: []string{msg}}, nil
	}
	return renderfarm.StatusResponse{Done: true, OutputFile: fmt.Sprintf("%s/artifacts/%d", f.artifactBase, idx)}, nil
}

func (f *fakeFarm) Cancel(_ context.Context, renderID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, renderID)
	return nil
}

func (f *fakeFarm) snapshot() (submitted, completed []int, cancelled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.submitted...), append([]int(nil), f.completed...), append([]string(nil), f.cancelled...)
}

// artifactServer serves "chunk<i>;" at /artifacts/<i>.
type artifactServer struct {
	*httptest.Server
	mu      sync.Mutex
	hits    int
	missing map[string]bool
}

func newArtifactServer() *artifactServer {
	a := &artifactServer{missing: map[string]bool{}}
	a.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/artifacts/")

		a.mu.Lock()
		a.hits++
		missing := a.missing[id]
		a.mu.Unlock()

		if missing {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "chunk"+id+";")
	}))
	return a
}

func (a *artifactServer) hitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits
}

// fileConcatenator appends the inputs byte for byte, in the order given.
type fileConcatenator struct {
	mu      sync.Mutex
	calls   int
	inputs  []string
	outputs []string
	err     error
}

func (c *fileConcatenator) Concatenate(_ context.Context, inputs []string, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.inputs = append([]string(nil), inputs...)
	c.outputs = append(c.outputs, output)
	if c.err != nil {
		return c.err
	}

	var b strings.Builder
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		b.Write(data)
	}
	return os.WriteFile(output, []byte(b.String()), 0o600)
}

// recordingPublisher keeps the content of the file it was asked to publish.
type recordingPublisher struct {
	mu        sync.Mutex
	calls     int
	content   string
	logicalID string
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, localPath, logicalID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	p.content = string(data)
	p.logicalID = logicalID
	return "https://cdn.test/renders/" + logicalID + "/final.mp4", nil
}

type harness struct {
	farm      *fakeFarm
	artifacts *artifactServer
	transport *http.Transport
	concat    *fileConcatenator
	publisher *recordingPublisher
	scratch   string
	cfg       Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	artifacts := newArtifactServer()
	return &harness{
		farm:      newFakeFarm(artifacts.URL),
		artifacts: artifacts,
		transport: &http.Transport{},
		concat:    &fileConcatenator{},
		publisher: &recordingPublisher{},
		scratch:   t.TempDir(),
		cfg: Config{
			MaxChunkSeconds:  120,
			ChunkConcurrency: 1,
			FetchConcurrency: 1,
			PollInterval:     time.Millisecond,
			PollMaxAttempts:  50,
			CancelTimeout:    time.Second,
		},
	}
}

func (h *harness) close() {
	h.artifacts.Close()
	h.transport.CloseIdleConnections()
}

func (h *harness) orchestrator() *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := h.cfg
	cfg.ScratchRoot = h.scratch
	return New(cfg, Deps{
		Submitter:    render.NewDispatcher(h.farm, "main", renderfarm.CodecH264, logger),
		Awaiter:      render.NewPoller(h.farm, logger),
		Canceller:    h.farm,
		Fetcher:      fetch.NewHTTPFetcher(&http.Client{Transport: h.transport}, logger),
		Concatenator: h.concat,
		Publisher:    h.publisher,
		Metrics:      metrics.New(),
		Logger:       logger,
	})
}

// assertScratchEmpty fails the test if any render left files behind.
func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if err != nil {
		t.Fatalf("read scratch root: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, filepath.Join(h.scratch, e.Name()))
		}
		t.Errorf("scratch root not empty: %v", names)
	}
}

// scenes returns n scenes of the given duration with ids s0..s(n-1).
func scenes(n int, seconds float64) []composition.SceneRef {
	out := make([]composition.SceneRef, n)
	for i := range out {
		out[i] = composition.SceneRef{ID: fmt.Sprintf("s%d", i), DurationSeconds: seconds}
	}
	return out
}

func descriptor(sc []composition.SceneRef) *composition.Descriptor {
	return &composition.Descriptor{
		Scenes:       sc,
		FPS:          30,
		GlobalParams: map[string]any{"theme": "dark"},
	}
}

var errBoom = errors.New("boom")
