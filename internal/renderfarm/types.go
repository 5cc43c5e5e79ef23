// Package renderfarm provides an HTTP client for the remote chunk rendering
// backend. Each submission renders one self-contained composition slice and
// writes the encoded result to the backend's object storage.
package renderfarm

// Codec names accepted by the backend.
const (
	CodecH264 = "h264"
	CodecH265 = "h265"
	CodecVP8  = "vp8"
	CodecVP9  = "vp9"
)

// SubmitRequest is the body of a render submission.
type SubmitRequest struct {
	CompositionID string         `json:"compositionId"`
	InputProps    map[string]any `json:"inputProps"`
	Codec         string         `json:"codec"`
}

// SubmitResponse identifies an accepted render.
type SubmitResponse struct {
	// RenderID is the backend job identifier.
	RenderID string `json:"renderId"`
	// BucketName tells the backend where to look the render up again.
	BucketName string `json:"bucketName"`
	Error      string `json:"error,omitempty"`
}

// StatusResponse is the progress report of one render.
type StatusResponse struct {
	Done            bool     `json:"done"`
	OutputFile      string   `json:"outputFile,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	OverallProgress float64  `json:"overallProgress"`
}
