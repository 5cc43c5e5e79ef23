package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/longrender/internal/composition"
	"github.com/maauso/longrender/internal/job"
	"github.com/maauso/longrender/internal/orchestrator"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.RenderService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateRender only creates the job and returns immediately
// without starting the render.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.RenderService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateRender handles POST /renders requests.
func (h *Handlers) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if len(req.Composition.Scenes) == 0 {
		writeError(w, http.StatusBadRequest, orchestrator.MsgNoScenes, "NO_SCENES")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := job.CreateRenderInput{
		ProjectID:   req.ProjectID,
		Composition: toDescriptor(req.Composition),
	}

	// Create job first (synchronously)
	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, composition.ErrNoScenes) {
			writeError(w, http.StatusBadRequest, orchestrator.MsgNoScenes, "NO_SCENES")
			return
		}
		if errors.Is(err, job.ErrInvalidComposition) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "INTERNAL_ERROR")
		return
	}

	// Rendering outlives the request; the service detaches the context.
	if h.enableAsyncProcess {
		h.service.ProcessAsync(r.Context(), createdJob.ID)
	}

	h.logger.Info("render job created",
		slog.String("job_id", createdJob.ID),
		slog.String("project_id", createdJob.ProjectID),
		slog.Int("scenes", len(req.Composition.Scenes)),
	)

	writeJSON(w, http.StatusAccepted, CreateRenderResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// GetRender handles GET /renders/{id} requests.
func (h *Handlers) GetRender(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, toRenderResponse(foundJob))
}

// ListRenders handles GET /renders requests.
func (h *Handlers) ListRenders(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := ListRendersResponse{Renders: make([]RenderResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Renders = append(resp.Renders, toRenderResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteRender handles DELETE /renders/{id} requests. Only finished jobs can
// be deleted; the published video is left in place.
func (h *Handlers) DeleteRender(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobActive) {
			writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
			return
		}
		h.writeLookupError(w, jobID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error("failed to get job",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
}

func toDescriptor(c CompositionRequest) *composition.Descriptor {
	scenes := make([]composition.SceneRef, len(c.Scenes))
	for i, s := range c.Scenes {
		scenes[i] = composition.SceneRef{
			ID:              s.ID,
			DurationSeconds: s.DurationSeconds,
			Payload:         s.Payload,
		}
	}
	return &composition.Descriptor{
		Scenes:       scenes,
		FPS:          c.FPS,
		Width:        c.Width,
		Height:       c.Height,
		GlobalParams: c.GlobalParams,
	}
}

func toRenderResponse(j *job.Job) RenderResponse {
	resp := RenderResponse{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
	}

	if j.Progress.Phase != "" {
		p := j.Progress
		resp.Progress = &ProgressResponse{
			Phase:           string(p.Phase),
			TotalChunks:     p.TotalChunks,
			CompletedChunks: p.CompletedChunks,
			CurrentChunk:    p.CurrentChunk,
			OverallPercent:  p.OverallPercent,
			Message:         p.Message,
			Error:           p.Error,
		}
	}

	switch j.Status {
	case job.StatusCompleted:
		resp.VideoURL = j.VideoURL
	case job.StatusFailed:
		resp.Error = j.Error
		resp.FailedPhase = j.FailedPhase
		if j.FailedChunk >= 0 {
			c := j.FailedChunk
			resp.FailedChunk = &c
		}
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
