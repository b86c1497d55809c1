package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"sterilization-gateway/internal/logging"
)

// APIError is a non-2xx answer from the sterilization backend.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend HTTP %d: %s", e.StatusCode, e.Body)
}

type tokenKey struct{}

// WithToken attaches the caller's bearer token; requests made with the returned
// context are authenticated as that caller instead of the service token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the token set by WithToken, or "".
func TokenFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey{}).(string); ok {
		return v
	}
	return ""
}

// Client wraps the sterilization backend REST API.
type Client struct {
	http   *resty.Client
	stream *resty.Client // no timeout, no retries
	token  string
	logger *logging.Logger
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithRetries sets how many times transport errors and 5xx answers are retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.http.SetRetryCount(n)
	}
}

// New creates a Client for baseURL. token is the service token used when the
// request context carries none.
func New(baseURL, token string, logger *logging.Logger, opts ...Option) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		AddRetryCondition(retryIdempotent).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	c := &Client{
		http:   httpClient,
		stream: resty.New().SetBaseURL(baseURL),
		token:  token,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryIdempotent retries GETs on transport errors and 5xx. Writes such as
// reconcile apply are never replayed.
func retryIdempotent(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || r.StatusCode() >= http.StatusInternalServerError
}

func (c *Client) authorize(ctx context.Context, r *resty.Request) *resty.Request {
	r.SetContext(ctx)
	token := TokenFrom(ctx)
	if token == "" {
		token = c.token
	}
	if token != "" {
		r.SetAuthToken(token)
	}
	return r
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.authorize(ctx, c.http.R())
}

// do executes method on path, decoding a 2xx JSON body into result when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any, query map[string]string) error {
	r := c.request(ctx)
	if body != nil {
		r.SetBody(body)
	}
	if result != nil {
		r.SetResult(result)
	}
	if len(query) > 0 {
		r.SetQueryParams(query)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		c.logger.Errorf("Backend %s %s failed: %v", method, path, err)
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		b := resp.String()
		if len(b) > 512 {
			b = b[:512]
		}
		c.logger.Warnf("Backend %s %s returned %d", method, path, resp.StatusCode())
		return &APIError{StatusCode: resp.StatusCode(), Body: b}
	}
	return nil
}

// Stream opens the server-push channel. The caller owns the returned body.
func (c *Client) Stream(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	r := c.authorize(ctx, c.stream.R()).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache")
	if lastEventID != "" {
		r.SetHeader("Last-Event-ID", lastEventID)
	}

	resp, err := r.Get("/events/stream")
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(body, 512))
		body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: string(b)}
	}
	return body, nil
}
