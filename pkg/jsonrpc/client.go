package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
)

// Client errors
var (
	ErrClientClosed = errors.New("client closed")
	ErrTimeout      = errors.New("request timeout")
	ErrCanceled     = errors.New("request canceled")
)

// HTTPStatusError reports a reply that was not 200 or 204.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client posts raw JSON-RPC 2.0 payloads to an HTTP endpoint. Building
// requests and matching replies is left to the caller.
type Client struct {
	// endpoint is the URL of the JSON-RPC server.
	endpoint string

	// httpClient is the HTTP client used to make requests.
	httpClient *http.Client

	// headers are the HTTP headers to include in requests.
	headers map[string]string

	// closed indicates whether the client is closed.
	closed atomic.Bool

	// mutex is used to synchronize access to the headers map.
	mutex sync.RWMutex
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used to make requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader adds an HTTP header to include in requests.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithHeaders sets the HTTP headers to include in requests.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		maps.Copy(c.headers, headers)
	}
}

// WithBearerToken authenticates every request with token.
func WithBearerToken(token string) ClientOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// NewClient creates a new JSON-RPC 2.0 client.
func NewClient(endpoint string, options ...ClientOption) *Client {
	client := &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// SetHeader sets an HTTP header on subsequent requests.
func (c *Client) SetHeader(key, value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.headers[key] = value
}

// Send posts a raw payload and returns the raw reply. A nil reply means the
// server had nothing to send back.
func (c *Client) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.mutex.RLock()
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	c.mutex.RUnlock()

	httpRes, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpRes.Body.Close()

	resData, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	switch httpRes.StatusCode {
	case http.StatusOK:
		return resData, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, &HTTPStatusError{StatusCode: httpRes.StatusCode, Body: string(bytes.TrimSpace(resData))}
	}
}

// Close closes the client.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}
