package renderfarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Static errors for render backend client operations.
var (
	// ErrBaseURLRequired is returned when the backend URL is not provided.
	ErrBaseURLRequired = errors.New("renderfarm: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("renderfarm: RENDER_API_KEY is not set")
	// ErrRenderIDRequired is returned when the render ID is not provided.
	ErrRenderIDRequired = errors.New("renderfarm: render ID is required")
	// ErrNoRenderIDReturned is returned when the submit response has no render ID.
	ErrNoRenderIDReturned = errors.New("renderfarm: submit failed: no render ID returned")
	// ErrSubmitFailed is returned when the backend refuses a submission.
	ErrSubmitFailed = errors.New("renderfarm: submit failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("renderfarm: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("renderfarm: rate limited")
	// ErrUnauthorized is returned on 401 and 403 responses.
	ErrUnauthorized = errors.New("renderfarm: unauthorized")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("renderfarm: request failed")
)

// Client defines the operations the orchestrator needs from the backend.
type Client interface {
	// Submit starts a render and returns its identifiers.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)

	// Status reports the progress of a render.
	Status(ctx context.Context, renderID, bucket string) (StatusResponse, error)

	// Cancel asks the backend to stop a render. It is best-effort.
	Cancel(ctx context.Context, renderID, bucket string) error
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	limiter     *rate.Limiter
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets how many times a refused submission is resent.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithSubmitRate limits render submissions to r per second with the given burst.
// A non-positive rate disables limiting.
func WithSubmitRate(r float64, burst int) ClientOption {
	return func(hc *HTTPClient) {
		if r <= 0 {
			hc.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		hc.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// NewClient creates a new backend HTTP client.
// The API key can be set via WithAPIKey; otherwise RENDER_API_KEY is read
// from the environment.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("RENDER_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Submit sends a render request and returns the backend identifiers.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return SubmitResponse{}, fmt.Errorf("renderfarm: wait for submit slot: %w", err)
		}
	}

	if req.Codec == "" {
		req.Codec = CodecH264
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("renderfarm: marshal request: %w", err)
	}

	var resp SubmitResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/renders", bodyBytes, &resp, safeToResend); err != nil {
		return SubmitResponse{}, err
	}

	if resp.RenderID == "" {
		if resp.Error != "" {
			return SubmitResponse{}, fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return SubmitResponse{}, ErrNoRenderIDReturned
	}

	return resp, nil
}

// Status fetches the current progress of a render with a single request.
// Callers poll, so failures are not retried here.
func (c *HTTPClient) Status(ctx context.Context, renderID, bucket string) (StatusResponse, error) {
	if renderID == "" {
		return StatusResponse{}, ErrRenderIDRequired
	}

	var resp StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, c.renderURL(renderID, bucket), nil, &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// Cancel requests the backend to abort a render.
func (c *HTTPClient) Cancel(ctx context.Context, renderID, bucket string) error {
	if renderID == "" {
		return ErrRenderIDRequired
	}
	return c.doRequest(ctx, http.MethodDelete, c.renderURL(renderID, bucket), nil, nil)
}

func (c *HTTPClient) renderURL(renderID, bucket string) string {
	u := fmt.Sprintf("%s/renders/%s", c.baseURL, url.PathEscape(renderID))
	if bucket != "" {
		u += "?bucket=" + url.QueryEscape(bucket)
	}
	return u
}

// doRequestWithRetry performs an HTTP request with exponential backoff,
// retrying only errors accepted by retryable.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, endpoint string, body []byte, result any, retryable func(error) bool) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("renderfarm: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("renderfarm: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, endpoint string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("renderfarm: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("renderfarm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("renderfarm: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w (status %d): %s", ErrUnauthorized, resp.StatusCode, string(respBody))
		default:
			return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("renderfarm: unmarshal response: %w", err)
		}
	}

	return nil
}

// safeToResend reports whether a submission can be sent again without risking
// a duplicate render: the backend refused it with 429, or the connection was
// never established. 5xx and broken responses may follow an accepted render.
func safeToResend(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
