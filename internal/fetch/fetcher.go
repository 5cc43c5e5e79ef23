// Package fetch downloads rendered chunk artifacts into the local scratch
// workspace.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Static errors for artifact downloads.
var (
	// ErrEmptyURL is returned when the artifact has no URL.
	ErrEmptyURL = errors.New("fetch: artifact URL is empty")
	// ErrBadStatus is returned for non-2xx responses.
	ErrBadStatus = errors.New("fetch: unexpected response status")
	// ErrShortTransfer is returned when fewer bytes arrived than declared.
	ErrShortTransfer = errors.New("fetch: byte count does not match content length")
)

// FetchError reports a failed or truncated artifact download.
type FetchError struct {
	ChunkIndex int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to download chunk %d: %v", e.ChunkIndex+1, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves a completed chunk into a local directory.
type Fetcher interface {
	// Fetch downloads artifactURL into scratchDir and returns the local path.
	Fetch(ctx context.Context, artifactURL string, chunkIndex int, scratchDir string) (string, error)
}

// HTTPFetcher downloads artifacts with plain HTTP GET requests.
type HTTPFetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Compile-time check that HTTPFetcher implements Fetcher.
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a client with a
// generous timeout since chunk files can be large.
func NewHTTPFetcher(client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{httpClient: client, logger: logger}
}

// ChunkFileName returns the scratch file name used for a chunk.
func ChunkFileName(chunkIndex int) string {
	return fmt.Sprintf("chunk-%04d.mp4", chunkIndex)
}

// Fetch downloads the artifact. The file only appears at its final path once
// the full body has been written and, when the server declared a length,
// the byte count matches it.
func (f *HTTPFetcher) Fetch(ctx context.Context, artifactURL string, chunkIndex int, scratchDir string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &FetchError{ChunkIndex: chunkIndex, URL: artifactURL, Err: err}
	}

	if artifactURL == "" {
		return fail(ErrEmptyURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return fail(fmt.Errorf("create request: %w", err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode))
	}

	dest := filepath.Join(scratchDir, ChunkFileName(chunkIndex))
	pending, err := renameio.NewPendingFile(dest, renameio.WithTempDir(scratchDir), renameio.WithPermissions(0o600))
	if err != nil {
		return fail(fmt.Errorf("create pending file: %w", err))
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.Copy(pending, resp.Body)
	if err != nil {
		return fail(fmt.Errorf("copy body: %w", err))
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fail(fmt.Errorf("%w: got %d, want %d", ErrShortTransfer, n, resp.ContentLength))
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fail(fmt.Errorf("commit file: %w", err))
	}

	f.logger.Debug("chunk downloaded",
		slog.Int("chunk_index", chunkIndex),
		slog.Int64("bytes", n),
		slog.String("path", dest),
	)
	return dest, nil
}
