// Package outcome defines the result of a single request and how it is classified.
package outcome

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Classification labels the HTTP-level result of one request.
type Classification string

const (
	Success      Classification = "success"
	ClientError  Classification = "client_error"
	ServerError  Classification = "server_error"
	RateLimited  Classification = "rate_limited"
	Timeout      Classification = "timeout"
	NetworkError Classification = "network_error"
)

// Classifications lists every classification in report order.
var Classifications = []Classification{
	Success, ClientError, ServerError, RateLimited, Timeout, NetworkError,
}

// IsError reports whether the classification counts towards the error rate.
// Rate limiting is expected backpressure and is tracked separately.
func (c Classification) IsError() bool {
	switch c {
	case ClientError, ServerError, Timeout, NetworkError:
		return true
	default:
		return false
	}
}

func (c Classification) String() string {
	return string(c)
}

var (
	// ErrTransportFailure wraps connection, DNS and TLS failures.
	ErrTransportFailure = errors.New("transport failure")

	// ErrTimeout marks a request that exceeded its deadline or was abandoned at hard stop.
	ErrTimeout = errors.New("request timeout")

	// ErrUnexpectedStatus marks a status outside the scenario's expected set.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrMalformedResponse marks a response body that could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")
)

// Phases holds the sub-phase timings of a request.
type Phases struct {
	Connecting time.Duration `json:"connecting"`
	Waiting    time.Duration `json:"waiting"`
	Receiving  time.Duration `json:"receiving"`
}

// Outcome is the immutable record of one request.
type Outcome struct {
	Request        string         `json:"request"`
	Method         string         `json:"method"`
	StatusCode     int            `json:"statusCode,omitempty"`
	Duration       time.Duration  `json:"duration"`
	Phases         Phases         `json:"phases"`
	Classification Classification `json:"classification"`
	Slow           bool           `json:"slow"`
	BodyValid      bool           `json:"bodyValid"`
	ChecksPassed   bool           `json:"checksPassed"`
	BatchSize      int            `json:"batchSize,omitempty"`
	Err            error          `json:"-"`
}

// HasResponse reports whether a status code was received.
func (o Outcome) HasResponse() bool {
	return o.StatusCode != 0
}

// Classify maps a received status and duration to a classification.
// slow is true when duration exceeds slowThreshold; a zero threshold never flags.
func Classify(status int, duration, slowThreshold time.Duration) (Classification, bool) {
	slow := slowThreshold > 0 && duration > slowThreshold

	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited, slow
	case status >= 500 && status <= 599:
		return ServerError, slow
	case status >= 400 && status <= 499:
		return ClientError, slow
	case status >= 200 && status <= 299:
		return Success, slow
	case status <= 0:
		return NetworkError, slow
	default:
		// 1xx and unfollowed 3xx: the client did not get what it asked for.
		return ClientError, slow
	}
}

// ClassifyFailure maps a request that produced no response to a classification
// and wraps err with the matching sentinel.
func ClassifyFailure(err error) (Classification, error) {
	if isTimeout(err) {
		return Timeout, errors.Join(ErrTimeout, err)
	}
	return NetworkError, errors.Join(ErrTransportFailure, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
