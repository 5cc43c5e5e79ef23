package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PublishError reports a failed upload of the final video.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("Upload failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Publisher uploads finished videos under collision-free keys.
type Publisher struct {
	store ObjectStore
	now   func() time.Time
	newID func() string
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithClock sets the time source used for object keys.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithIDSource sets the generator for the random key suffix.
func WithIDSource(newID func() string) PublisherOption {
	return func(p *Publisher) {
		p.newID = newID
	}
}

// NewPublisher creates a Publisher on top of store.
func NewPublisher(store ObjectStore, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads the file at localPath and returns its durable URL.
func (p *Publisher) Publish(ctx context.Context, localPath, logicalID string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 - path is produced by the orchestrator
	if err != nil {
		return "", &PublishError{Err: fmt.Errorf("open output: %w", err)}
	}
	defer func() { _ = f.Close() }()

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	key := ObjectKey(logicalID, p.now(), p.newID())
	url, err := p.store.Put(ctx, key, f, size, ContentTypeMP4)
	if err != nil {
		return "", &PublishError{Err: err}
	}
	return url, nil
}

// ObjectKey builds "renders/{logicalID}/{yyyymmddThhmmssZ}-{suffix}.mp4".
// suffix is reduced to its first 8 hex characters.
func ObjectKey(logicalID string, at time.Time, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("renders/%s/%s-%s.mp4",
		sanitizeSegment(logicalID), at.UTC().Format("20060102T150405Z"), suffix)
}

func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "unnamed"
	}
	return s
}
