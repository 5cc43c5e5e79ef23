// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// Format: render-<uuid>
// Example: render-0f1e2d3c-4b5a-4978-8796-a5b4c3d2e1f0
func Generate() string {
	return "render-" + uuid.NewString()
}
