package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/stream"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	ChatPath         = "/chat/v2"
	ChatStreamedPath = "/chat/streamed"

	// RefreshedTokenHeader carries a refreshed credential on streamed responses.
	RefreshedTokenHeader = "X-Refreshed-Token"
)

// ChatResponse is the body of a non-streaming completion.
type ChatResponse struct {
	Role        conversation.Role `json:"role"`
	Content     string            `json:"content"`
	AccessToken string            `json:"access_token,omitempty"`
}

// ErrorResponse is the body the service sends with a non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPTransport talks to the sidekick completion service: a JSON endpoint for
// single responses and a chunked text endpoint for streams.
type HTTPTransport struct {
	settings *settings.ClientSettings
	client   *http.Client
	opts     *options
}

var _ Transport = &HTTPTransport{}

func NewHTTPTransport(cs *settings.ClientSettings, opts ...Option) (*HTTPTransport, error) {
	if cs == nil {
		return nil, errors.New("no client settings")
	}
	if cs.BaseURL == "" {
		return nil, errors.New("no base url for the completion service")
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts...)
	if o.limiter == nil {
		o.limiter = NewLimiter(cs.RequestsPerMinute)
	}
	o.timeout = cs.GetTimeout()
	client := o.httpClient
	if client == nil {
		client = NewHTTPClient(o.timeout)
	}

	return &HTTPTransport{
		settings: cs.Clone(),
		client:   client,
		opts:     o,
	}, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, path string, req *request.Request) (*http.Request, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(t.settings.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.settings.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.settings.APIKey)
	}
	if t.settings.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.settings.UserAgent)
	}
	return httpReq, nil
}

func (t *HTTPTransport) do(ctx context.Context, op string, path string, req *request.Request) (*http.Response, error) {
	if req == nil {
		return nil, NewTransportError(op, 0, errors.New("nil request"))
	}
	if err := t.opts.wait(ctx, op); err != nil {
		return nil, err
	}

	httpReq, err := t.newRequest(ctx, path, req)
	if err != nil {
		return nil, NewTransportError(op, 0, err)
	}

	log.Debug().Str("url", httpReq.URL.String()).Int("history", len(req.ChatHistory)).Msg("sending completion request")
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, NewTransportError(op, 0, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, NewTransportError(op, resp.StatusCode, readErrorBody(resp.Body))
	}

	return resp, nil
}

func readErrorBody(r io.Reader) error {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return errors.Wrap(err, "could not read error body")
	}
	var er ErrorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error != "" {
		return errors.New(er.Error)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		text = "empty response"
	}
	return errors.New(text)
}

func (t *HTTPTransport) SendNonStreaming(ctx context.Context, req *request.Request) (*Response, error) {
	const op = "chat"

	ctx, cancel := t.opts.withTimeout(ctx)
	defer cancel()

	resp, err := t.do(ctx, op, ChatPath, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var cr ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, NewTransportError(op, resp.StatusCode, errors.Wrap(err, "could not decode response"))
	}
	if cr.Role == "" {
		cr.Role = conversation.RoleAssistant
	}
	if !cr.Role.IsValid() {
		return nil, NewTransportError(op, resp.StatusCode, errors.Errorf("unexpected role %q", cr.Role))
	}

	t.opts.refreshToken(cr.AccessToken)

	return &Response{
		Message: conversation.NewMessage(cr.Role, cr.Content),
		Token:   cr.AccessToken,
	}, nil
}

func (t *HTTPTransport) SendStreaming(ctx context.Context, req *request.Request, cancel *stream.CancelSignal) (*stream.Decoder, error) {
	const op = "chat streamed"

	resp, err := t.do(ctx, op, ChatStreamedPath, req)
	if err != nil {
		return nil, err
	}

	t.opts.refreshToken(resp.Header.Get(RefreshedTokenHeader))

	src := stream.NewReaderSource(resp.Body, t.opts.chunkSize)
	return stream.NewDecoder(&errorWrappingSource{src: src, op: op}, stream.WithCancelSignal(cancel)), nil
}

// errorWrappingSource tags mid-stream failures as transport errors.
type errorWrappingSource struct {
	src stream.ChunkSource
	op  string
}

func (s *errorWrappingSource) Recv(ctx context.Context) (string, error) {
	text, err := s.src.Recv(ctx)
	if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		return text, NewTransportError(s.op, 0, err)
	}
	return text, err
}

func (s *errorWrappingSource) Close() error {
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
