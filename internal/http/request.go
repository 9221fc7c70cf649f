package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one call relative to the client's base URL.
type Request struct {
	Method      string
	Path        string
	QueryParams url.Values
	Headers     map[string]string
	Body        any
}

// NewRequest creates a request for method and path.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:      method,
		Path:        path,
		QueryParams: make(url.Values),
		Headers:     make(map[string]string),
	}
}

// WithHeader sets a request header.
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithQueryParam adds a query parameter.
func (r *Request) WithQueryParam(key, value string) *Request {
	r.QueryParams.Add(key, value)
	return r
}

// WithBody sets the body. Strings, byte slices and readers are sent as-is;
// anything else is encoded as JSON.
func (r *Request) WithBody(body any) *Request {
	r.Body = body
	return r
}

// Build constructs the http.Request bound to ctx.
func (r *Request) Build(ctx context.Context, baseURL string) (*http.Request, error) {
	reqURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	if reqURL.Path == "" {
		reqURL.Path = r.Path
	} else {
		reqURL.Path = strings.TrimRight(reqURL.Path, "/") + "/" + strings.TrimLeft(r.Path, "/")
	}

	query := reqURL.Query()
	for key, values := range r.QueryParams {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	reqURL.RawQuery = query.Encode()

	var bodyReader io.Reader
	contentType := ""
	switch body := r.Body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(body)
	case []byte:
		bodyReader = bytes.NewReader(body)
	case io.Reader:
		bodyReader = body
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, reqURL.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}
