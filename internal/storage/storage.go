// Package storage publishes finished videos to durable storage.
// It defines the ObjectStore interface (port) with local disk and S3
// implementations, and the Publisher that names and uploads render outputs.
package storage

import (
	"context"
	"io"
)

// ContentTypeMP4 is the content type attached to published videos.
const ContentTypeMP4 = "video/mp4"

// ObjectStore defines the interface for durable object storage.
type ObjectStore interface {
	// Put stores body under key and returns a URL through which the object
	// can be retrieved. size is the body length in bytes, or -1 if unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (url string, err error)
}
