// Package http is a thin HTTP client that records per-phase request timing.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// Client sends requests against a base URL with fixed headers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client. The client itself has no deadline; callers
// bound each request through its context.
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{},
		headers:    make(map[string]string),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithBaseURL sets the base URL requests are resolved against.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// Do executes req and reads the whole body. The returned error is non-nil
// only when no complete response was received; any status code is a
// successful Do.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	tracer := newPhaseTracer(start)
	ctx = httptrace.WithClientTrace(ctx, tracer.clientTrace())

	httpReq, err := req.Build(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	timing := tracer.timing()

	receiveStart := time.Now()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	timing.Receiving = time.Since(receiveStart)
	timing.Total = time.Since(start)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Timing:     timing,
	}, nil
}
