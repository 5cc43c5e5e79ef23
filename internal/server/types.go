// Package server provides the HTTP API for submitting and tracking renders.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/json"
	"time"
)

// SceneRequest is one scene of a composition in a render request.
type SceneRequest struct {
	ID              string          `json:"id" validate:"required"`
	DurationSeconds float64         `json:"duration_seconds" validate:"gt=0"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// CompositionRequest describes the video to render.
type CompositionRequest struct {
	// Scenes in playback order.
	Scenes []SceneRequest `json:"scenes" validate:"dive"`
	// FPS is the output frame rate.
	FPS int `json:"fps" validate:"required,min=1,max=240"`
	// Width and Height are optional output dimensions.
	Width  int `json:"width,omitempty" validate:"omitempty,min=1,max=7680"`
	Height int `json:"height,omitempty" validate:"omitempty,min=1,max=4320"`
	// GlobalParams are passed to every chunk render.
	GlobalParams map[string]any `json:"global_params,omitempty"`
}

// CreateRenderRequest is the HTTP request body for creating a render job.
type CreateRenderRequest struct {
	// ProjectID is the caller's project id. It names the published object.
	ProjectID   string             `json:"project_id" validate:"omitempty,max=128"`
	Composition CompositionRequest `json:"composition"`
}

// CreateRenderResponse is the HTTP response after creating a render job.
type CreateRenderResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ProgressResponse is the latest progress snapshot of a render.
type ProgressResponse struct {
	Phase           string `json:"phase"`
	TotalChunks     int    `json:"total_chunks"`
	CompletedChunks int    `json:"completed_chunks"`
	CurrentChunk    *int   `json:"current_chunk,omitempty"`
	OverallPercent  int    `json:"overall_percent"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RenderResponse is the HTTP response for getting render job details.
type RenderResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	// Progress is omitted until the first snapshot arrives.
	Progress *ProgressResponse `json:"progress,omitempty"`
	// VideoURL is set once the job is COMPLETED.
	VideoURL string `json:"video_url,omitempty"`
	// Error, FailedPhase and FailedChunk are set once the job is FAILED.
	Error       string     `json:"error,omitempty"`
	FailedPhase string     `json:"failed_phase,omitempty"`
	FailedChunk *int       `json:"failed_chunk,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListRendersResponse is the HTTP response for listing render jobs.
type ListRendersResponse struct {
	Renders []RenderResponse `json:"renders"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
