// Package transport executes completion requests against a completion
// service, either as a single request/response or as a stream of text deltas.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type Transport interface {
	// SendNonStreaming blocks until the whole response is available.
	SendNonStreaming(ctx context.Context, req *request.Request) (*Response, error)
	// SendStreaming opens the stream and returns a decoder over its deltas.
	// Errors opening the stream are returned directly, errors after that are
	// reported by the decoder's Err.
	SendStreaming(ctx context.Context, req *request.Request, cancel *stream.CancelSignal) (*stream.Decoder, error)
}

// Response is the outcome of a non-streaming call.
type Response struct {
	Message conversation.Message
	// Token is a refreshed credential handed back by the service, if any.
	Token string
}

// CallState is the lifecycle of a single streaming call.
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateConnecting CallState = "connecting"
	CallStateStreaming  CallState = "streaming"
	CallStateCompleted  CallState = "completed"
	CallStateCancelled  CallState = "cancelled"
	CallStateFailed     CallState = "failed"
)

func (s CallState) IsTerminal() bool {
	switch s {
	case CallStateCompleted, CallStateCancelled, CallStateFailed:
		return true
	default:
		return false
	}
}

// TransportError wraps any network or service failure.
type TransportError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, http.StatusText(e.StatusCode), e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func NewTransportError(op string, statusCode int, cause error) *TransportError {
	return &TransportError{Op: op, StatusCode: statusCode, Cause: cause}
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type options struct {
	tokenRefresh func(token string)
	httpClient   *http.Client
	timeout      time.Duration
	limiter      *rate.Limiter
	chunkSize    int
}

type Option func(*options)

// WithTokenRefresh registers a callback invoked whenever the service hands
// back a refreshed credential.
func WithTokenRefresh(f func(token string)) Option {
	return func(o *options) {
		o.tokenRefresh = f
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRateLimiter overrides the limiter derived from the client settings.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithChunkSize sets the read buffer size used for streamed bodies.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

func newOptions(opts ...Option) *options {
	ret := &options{
		chunkSize: 1024,
	}
	for _, o := range opts {
		o(ret)
	}
	return ret
}

func (o *options) refreshToken(token string) {
	if token != "" && o.tokenRefresh != nil {
		o.tokenRefresh(token)
	}
}

// withTimeout bounds a non-streaming call. Streams are only bounded until
// their response headers arrive, by the client returned from NewHTTPClient.
func (o *options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *options) wait(ctx context.Context, op string) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return NewTransportError(op, 0, errors.Wrap(err, "rate limiter"))
	}
	return nil
}

// NewLimiter converts a requests-per-minute budget into a limiter, nil when
// the budget is 0.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
}

// NewHTTPClient returns a client whose timeout covers dialing, the TLS
// handshake and the wait for response headers, but not reading the body.
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = timeout
		t.ResponseHeaderTimeout = timeout
	}
	return &http.Client{Transport: t}
}
