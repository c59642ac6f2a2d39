// Package transport issues single HTTP/JSON requests on behalf of pipes and
// auth modules and classifies their failures into domain error kinds.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/restpipe/internal/domain"
)

const defaultUserAgent = "restpipe/1.0"

// Request describes one HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header

	// Body is JSON encoded when non-nil.
	Body any
}

// Response is a successful (2xx) response with its body decoded.
type Response struct {
	StatusCode int
	Header     http.Header

	// URL is the final request URL, used to resolve relative links.
	URL string

	// Body is the raw response body.
	Body []byte

	// Data is the generic JSON decode of Body: maps, slices, float64,
	// string, bool or nil. An empty body decodes to nil.
	Data any
}

// Executor issues a single request. Implementations must honour ctx for
// cancellation and deadlines and must not retry.
type Executor interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f(ctx, req).
func (f ExecutorFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ExecutorOption configures the HTTP executor.
type ExecutorOption func(*HTTPExecutor)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ExecutorOption {
	return func(e *HTTPExecutor) {
		e.httpClient = httpClient
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ExecutorOption {
	return func(e *HTTPExecutor) {
		e.userAgent = ua
	}
}

// WithLogger sets the logger for the executor.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *HTTPExecutor) {
		e.logger = logger
	}
}

// HTTPExecutor is the net/http implementation of Executor.
type HTTPExecutor struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewHTTPExecutor creates an executor. By default requests go through an
// otelhttp-instrumented transport.
func NewHTTPExecutor(opts ...ExecutorOption) *HTTPExecutor {
	e := &HTTPExecutor{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do sends req and returns the decoded response or a classified error.
func (e *HTTPExecutor) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, domain.ErrInvalid("failed to marshal request body", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, domain.ErrInvalid("failed to create request", err)
	}

	e.setHeaders(httpReq, req)

	e.logger.Debug("sending request",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
	)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.ErrStatus(resp.StatusCode, respBody)
	}

	data, err := Decode(respBody)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        resp.Request.URL.String(),
		Body:       respBody,
		Data:       data,
	}, nil
}

func (e *HTTPExecutor) setHeaders(httpReq *http.Request, req *Request) {
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", e.userAgent)

	for k, values := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
}

// Decode parses a JSON body into generic values. Whitespace-only bodies
// decode to nil.
func Decode(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, domain.ErrParseFailure("failed to unmarshal response", err).WithBody(body)
	}
	return data, nil
}

// classifyTransportError maps a failed round trip onto a domain kind. The
// context is consulted alongside err because net/http wraps deadline and
// cancel causes inconsistently.
func classifyTransportError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil:
		return domain.ErrTimedOut("transport timeout").WithCause(err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrTimedOut("no response within the configured interval").WithCause(err)
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	default:
		return domain.ErrNetworkFailure(err)
	}
}

// Ensure HTTPExecutor implements the interface.
var _ Executor = (*HTTPExecutor)(nil)
