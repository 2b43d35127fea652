package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/retry"
	"livecast/pkg/tracing"

	"go.uber.org/zap"
)

// Options configures the registry client.
type Options struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	CreateRetries  int // retries on transport errors only; HTTP errors never retry
}

// Client talks to the stream registry REST API. Every call carries the
// bearer token and a bounded timeout; a registry without one can hang a
// session attempt silently.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

var _ ports.StreamRegistry = (*Client)(nil)

// NewClient creates a registry client.
func NewClient(opts Options, logger *zap.SugaredLogger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		logger:     logger,
	}
}

type createStreamRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Privacy     string `json:"privacy"`
}

// CreateStream registers a new stream. Transport failures are retried with
// backoff; any non-2xx response or an empty publish token is fatal.
func (c *Client) CreateStream(ctx context.Context, title, description, privacy string) (*ports.CreateStreamResult, error) {
	ctx, span := tracing.TraceRegistryCall(ctx, "create", "")
	defer span.End()

	cfg := retry.Config{
		MaxAttempts:  c.opts.CreateRetries,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	body := createStreamRequest{Title: title, Description: description, Privacy: privacy}
	data, err := retry.DoWithResult(ctx, cfg, func() ([]byte, error) {
		data, err := c.post(ctx, "/live/create", body)
		var se *statusError
		if errors.As(err, &se) {
			// An HTTP-level rejection will not improve on retry.
			return nil, retry.Permanent(err)
		}
		return data, err
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.NewRegistry("create stream call failed", err)
	}

	var result ports.CreateStreamResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperrors.NewRegistry("malformed create stream response", err)
	}
	if strings.TrimSpace(result.PublishToken) == "" {
		return nil, apperrors.NewRegistry("registry returned empty publish token", domain.ErrInvalidToken)
	}
	if result.StreamID == "" {
		result.StreamID = result.Stream.ID
	}
	c.logger.Infow("stream created", "stream_id", result.StreamID)
	return &result, nil
}

// GetStream fetches stream metadata by id. A 404 maps to
// domain.ErrStreamNotFound.
func (c *Client) GetStream(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	ctx, span := tracing.TraceRegistryCall(ctx, "get", string(id))
	defer span.End()

	data, err := c.get(ctx, fmt.Sprintf("/live/%s", id))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	var stream domain.Stream
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, apperrors.NewRegistry("malformed stream metadata", err)
	}
	return &stream, nil
}

// EndStream marks the stream ended. Errors come back to the caller, who
// treats them as a logging matter: local teardown continues regardless.
func (c *Client) EndStream(ctx context.Context, id domain.StreamID) error {
	ctx, span := tracing.TraceRegistryCall(ctx, "end", string(id))
	defer span.End()

	if _, err := c.post(ctx, fmt.Sprintf("/live/%s/end", id), struct{}{}); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, &statusError{code: resp.StatusCode, cause: fmt.Errorf("%s: %w", req.URL.Path, domain.ErrStreamNotFound)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, cause: fmt.Errorf("registry returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))}
	}
	return data, nil
}

// statusError is an HTTP-level rejection, as opposed to a transport error.
type statusError struct {
	code  int
	cause error
}

func (e *statusError) Error() string { return e.cause.Error() }
func (e *statusError) Unwrap() error { return e.cause }

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
