// Package composition describes the frame-precise video composition that the
// orchestrator renders in chunks. A Descriptor is produced by an upstream
// collaborator and is treated as read-only for the lifetime of a render.
package composition

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Static errors for descriptor validation.
var (
	// ErrNoScenes is returned when a descriptor has an empty scene list.
	ErrNoScenes = errors.New("composition: no scenes to render")
	// ErrSceneTooShort is returned when a scene spans less than one frame.
	ErrSceneTooShort = errors.New("composition: scene shorter than one frame")
)

// frameEpsilon absorbs float error in the one-frame minimum.
const frameEpsilon = 1e-9

// SceneRef is a single scene of the composition.
type SceneRef struct {
	// ID identifies the scene for the caller. It is opaque to the orchestrator.
	ID string `json:"id" validate:"required"`
	// DurationSeconds is the scene length. Must be positive.
	DurationSeconds float64 `json:"duration_seconds" validate:"gt=0"`
	// Payload is the render input for this scene, passed through untouched.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Descriptor is the full ordered scene sequence plus global render parameters.
type Descriptor struct {
	Scenes []SceneRef `json:"scenes" validate:"required,min=1,dive"`
	FPS    int        `json:"fps" validate:"required,min=1,max=240"`
	Width  int        `json:"width,omitempty" validate:"omitempty,min=1,max=7680"`
	Height int        `json:"height,omitempty" validate:"omitempty,min=1,max=4320"`
	// GlobalParams are shared by every chunk submission.
	GlobalParams map[string]any `json:"global_params,omitempty"`
}

var validate = validator.New()

// Validate checks the descriptor invariants. An empty scene list is reported
// as ErrNoScenes so callers can tell "nothing to render" apart from bad input.
// Every scene must last at least one frame at the descriptor's FPS.
func (d *Descriptor) Validate() error {
	if len(d.Scenes) == 0 {
		return ErrNoScenes
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("composition: invalid descriptor: %w", err)
	}
	for i, s := range d.Scenes {
		if s.DurationSeconds*float64(d.FPS) < 1-frameEpsilon {
			return fmt.Errorf("%w: scene %d (%q) lasts %gs at %d fps", ErrSceneTooShort, i, s.ID, s.DurationSeconds, d.FPS)
		}
	}
	return nil
}

// TotalDurationSeconds returns the sum of all scene durations.
func (d *Descriptor) TotalDurationSeconds() float64 {
	var total float64
	for _, s := range d.Scenes {
		total += s.DurationSeconds
	}
	return total
}

// TotalFrames returns the expected frame count of the finished video.
func (d *Descriptor) TotalFrames() int {
	return FrameAt(d.TotalDurationSeconds(), d.FPS)
}
