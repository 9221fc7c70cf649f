// Package shifts drives the shift batch API: it sends requests, turns
// responses into outcomes and implements one workload per operation.
package shifts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	ihttp "github.com/wesleyorama2/shiftload/internal/http"
	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

// API paths relative to the base URL.
const (
	PathBatchCreate = "/shifts/batch/create"
	PathBatchUpdate = "/shifts/batch/update"
	PathBatchDelete = "/shifts/batch/delete"
	PathShifts      = "/shifts"
)

// HeaderAPIKey carries the API key.
const HeaderAPIKey = "x-api-key"

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Headers   map[string]string

	// MaxIdleConnsPerHost sizes the keep-alive pool. Zero keeps the
	// transport default.
	MaxIdleConnsPerHost int

	// Transport replaces the default transport.
	Transport http.RoundTripper

	Logger *zap.Logger
}

// Client sends requests to the shift API and reports each as an Outcome.
// It never retries.
type Client struct {
	http   *ihttp.Client
	logger *zap.Logger
}

// NewClient creates a client for the API at opts.BaseURL.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	options := []ihttp.ClientOption{
		ihttp.WithBaseURL(opts.BaseURL),
		ihttp.WithHeader("Content-Type", "application/json"),
		ihttp.WithHeader("Accept", "application/json"),
	}
	if opts.APIKey != "" {
		options = append(options, ihttp.WithHeader(HeaderAPIKey, opts.APIKey))
	}
	if opts.UserAgent != "" {
		options = append(options, ihttp.WithHeader("User-Agent", opts.UserAgent))
	}
	for k, v := range opts.Headers {
		options = append(options, ihttp.WithHeader(k, v))
	}

	switch {
	case opts.Transport != nil:
		options = append(options, ihttp.WithTransport(opts.Transport))
	case opts.MaxIdleConnsPerHost > 0:
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
		tr.MaxIdleConns = max(tr.MaxIdleConns, opts.MaxIdleConnsPerHost)
		options = append(options, ihttp.WithTransport(tr))
	}

	return &Client{http: ihttp.NewClient(options...), logger: logger}, nil
}

// SendOption adjusts a single Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	name          string
	expect        []int
	schema        *Schema
	slowThreshold time.Duration
	batchSize     int
	query         [][2]string
}

// Named sets the request name reported in the outcome.
func Named(name string) SendOption {
	return func(o *sendOptions) {
		o.name = name
	}
}

// ExpectStatus sets the statuses the checks accept. A status outside the
// set fails the checks; it does not change the classification.
func ExpectStatus(codes ...int) SendOption {
	return func(o *sendOptions) {
		o.expect = append(o.expect, codes...)
	}
}

// ExpectSchema requires the body to match schema for the checks to pass.
func ExpectSchema(schema *Schema) SendOption {
	return func(o *sendOptions) {
		o.schema = schema
	}
}

// SlowThreshold flags responses slower than d.
func SlowThreshold(d time.Duration) SendOption {
	return func(o *sendOptions) {
		o.slowThreshold = d
	}
}

// BatchSize records how many items the body carries.
func BatchSize(n int) SendOption {
	return func(o *sendOptions) {
		o.batchSize = n
	}
}

// Query adds a query parameter.
func Query(key, value string) SendOption {
	return func(o *sendOptions) {
		o.query = append(o.query, [2]string{key, value})
	}
}

// Send issues one request with a hard deadline of timeout and returns its
// outcome. Failures are reported in the outcome, never as a panic or
// error: a request that produced no response is classified from its error,
// one that did is classified from its status.
func (c *Client) Send(ctx context.Context, method, path string, body any, timeout time.Duration, opts ...SendOption) outcome.Outcome {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = method + " " + path
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := ihttp.NewRequest(method, path)
	if body != nil {
		req.WithBody(body)
	}
	for _, kv := range o.query {
		req.WithQueryParam(kv[0], kv[1])
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		class, werr := outcome.ClassifyFailure(err)
		result := outcome.Outcome{
			Request:        o.name,
			Method:         method,
			Duration:       time.Since(start),
			Classification: class,
			BatchSize:      o.batchSize,
			Err:            werr,
		}
		c.logger.Debug("request failed",
			zap.String("request", o.name),
			zap.String("classification", string(class)),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
		return result
	}

	class, slow := outcome.Classify(resp.StatusCode, resp.Timing.Total, o.slowThreshold)
	result := outcome.Outcome{
		Request:    o.name,
		Method:     method,
		StatusCode: resp.StatusCode,
		Duration:   resp.Timing.Total,
		Phases: outcome.Phases{
			Connecting: resp.Timing.Connecting,
			Waiting:    resp.Timing.Waiting,
			Receiving:  resp.Timing.Receiving,
		},
		Classification: class,
		Slow:           slow,
		BodyValid:      len(resp.Body) > 0 && gjson.ValidBytes(resp.Body),
		BatchSize:      o.batchSize,
	}

	var errs []error
	if !result.BodyValid {
		errs = append(errs, outcome.ErrMalformedResponse)
	}
	if len(o.expect) > 0 && !slices.Contains(o.expect, resp.StatusCode) {
		errs = append(errs, fmt.Errorf("%w: got %d, want %v", outcome.ErrUnexpectedStatus, resp.StatusCode, o.expect))
	}
	if o.schema != nil && result.BodyValid {
		if err := o.schema.Validate(resp.Body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.schema.Name(), err))
		}
	}
	result.ChecksPassed = len(errs) == 0
	result.Err = errors.Join(errs...)

	if class != outcome.Success {
		c.logger.Debug("request not successful",
			zap.String("request", o.name),
			zap.Int("status", resp.StatusCode),
			zap.String("classification", string(class)),
			zap.Duration("duration", result.Duration))
	}
	return result
}

// Get issues a GET and returns the raw response, for callers that need the
// body itself rather than an outcome.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (*ihttp.Response, error) {
	req := ihttp.NewRequest(http.MethodGet, path)
	for k, v := range query {
		req.WithQueryParam(k, v)
	}
	return c.http.Do(ctx, req)
}
